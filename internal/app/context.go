package app

import (
	"database/sql"
	"fmt"

	"taskbridge/internal/config"
	"taskbridge/internal/db"
	"taskbridge/internal/engine"
	"taskbridge/internal/migrate"
)

// Env bundles the open database, loaded config and engine for one workspace.
type Env struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares the workspace: creates the data directory, opens the SQLite
// store, applies migrations and loads taskbridge.yml (defaults when absent).
func Open(workspace string) (*Env, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Env{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}
