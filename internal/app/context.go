// Package app wires up the per-invocation context: which project is
// active, which config governs it and which user is acting.
package app

import (
	"context"
	"errors"
	"fmt"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project
// and config exist in the database, seeding defaults if missing. It
// prefers the override, then a single-project database. A named project
// that does not exist yet is created on the fly with the default config.
func ResolveProjectAndConfig(ctx context.Context, eng engine.Engine, projectOverride string) (domain.Project, *config.Config, error) {
	r := eng.Repo
	name := projectOverride
	if name == "" {
		projects, err := r.ListProjects(ctx)
		if err != nil {
			return domain.Project{}, nil, err
		}
		if len(projects) != 1 {
			return domain.Project{}, nil, fmt.Errorf("project not specified; use --project")
		}
		name = projects[0].Name
	}
	seedCfg := config.Default(name)

	p, err := r.GetProjectByName(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		p, err = eng.CreateProject(ctx, name, "")
		if err != nil {
			return domain.Project{}, nil, err
		}
		if err := r.UpsertProjectConfig(ctx, p.ID, seedCfg); err != nil {
			return domain.Project{}, nil, fmt.Errorf("seed project config: %w", err)
		}
		return p, seedCfg, nil
	}
	if err != nil {
		return domain.Project{}, nil, err
	}

	cfg, err := r.GetProjectConfig(ctx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		if err := r.UpsertProjectConfig(ctx, p.ID, seedCfg); err != nil {
			return domain.Project{}, nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	} else if err != nil {
		return domain.Project{}, nil, err
	}
	return p, cfg, nil
}

// ResolveActor maps an account name to a user, creating the user on first
// use so a fresh workspace works without an explicit user setup step.
func ResolveActor(ctx context.Context, eng engine.Engine, account string) (domain.User, error) {
	if account == "" {
		account = "local-user"
	}
	u, err := eng.Repo.GetUserByAccount(ctx, account)
	if errors.Is(err, repo.ErrNotFound) {
		return eng.CreateUser(ctx, domain.User{Account: account, FullName: account})
	}
	return u, err
}
