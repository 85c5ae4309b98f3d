package repo

import (
	"context"
	"database/sql"
	"time"

	"trackline/internal/config"
)

// Project configs are stored as YAML in the database; the workspace file
// is only an import/export surface.

func (r Repo) GetProjectConfig(ctx context.Context, projectID int64) (*config.Config, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM project_configs WHERE project_id=?`, projectID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID int64, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID int64, cfg *config.Config) error {
	raw, err := cfg.ToYAML()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO project_configs(project_id,yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(project_id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`,
		projectID, string(raw), time.Now().Unix())
	return err
}
