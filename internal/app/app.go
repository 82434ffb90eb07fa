// Package app wires the workspace: database, migrations, config and the
// service layer used by both the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studytrail/internal/config"
	"studytrail/internal/db"
	"studytrail/internal/directory"
	"studytrail/internal/engine"
	"studytrail/internal/gateway"
	"studytrail/internal/migrate"
	"studytrail/internal/records"
	"studytrail/internal/store"
)

// Context is the wired workspace.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Gateway   gateway.Store
	Engine    engine.Engine
	Records   records.Store
	Directory directory.Directory
	Store     *store.Store
	ActorID   string
	Log       zerolog.Logger
}

// Open opens the workspace database, runs migrations, resolves the config
// and builds the service layer. A missing config is seeded with defaults,
// persisted to the workspace_config table and written to studytrail.yml.
func Open(ctx context.Context, workspace, actorID string, log zerolog.Logger) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := resolveConfig(ctx, conn, workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if actorID == "" {
		actorID = os.Getenv("ST_ACTOR_ID")
	}
	if actorID == "" {
		actorID = "local-user"
	}
	dir := directory.New(conn)
	if err := dir.EnsureUser(ctx, actorID, ""); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure user: %w", err)
	}

	gw := gateway.New(conn)
	rec := records.New(conn)
	eng := engine.New(gw, rec, cfg)
	eng.Log = log
	st := store.New(gw, eng)
	return &Context{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Gateway:   gw,
		Engine:    eng,
		Records:   rec,
		Directory: dir,
		Store:     st,
		ActorID:   actorID,
		Log:       log,
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// resolveConfig prefers studytrail.yml, then the workspace_config table,
// and finally seeds defaults into both.
func resolveConfig(ctx context.Context, conn *sql.DB, workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	var raw string
	err = conn.QueryRowContext(ctx, `SELECT config_yaml FROM workspace_config WHERE id=1`).Scan(&raw)
	switch {
	case err == nil:
		return config.FromYAML([]byte(raw))
	case err != sql.ErrNoRows:
		return nil, err
	}
	cfg = config.Default(uuid.NewString())
	data, err := cfg.ToYAML()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO workspace_config(id,config_yaml,updated_at) VALUES (1,?,?)`,
		string(data), now); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	if err := os.WriteFile(config.Path(workspace), data, 0o644); err != nil {
		return nil, fmt.Errorf("write config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig persists the current config to both the table and the file.
func (c *Context) SaveConfig(ctx context.Context) error {
	data, err := c.Config.ToYAML()
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := c.DB.ExecContext(ctx,
		`INSERT INTO workspace_config(id,config_yaml,updated_at) VALUES (1,?,?)
		 ON CONFLICT(id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`,
		string(data), now); err != nil {
		return err
	}
	return os.WriteFile(config.Path(c.Workspace), data, 0o644)
}
