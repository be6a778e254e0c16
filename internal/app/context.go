package app

import (
	"context"
	"errors"
	"fmt"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/engine"
	"stockwatch/internal/repo"
)

// EnsureRegistry loads stockwatch.yml (falling back to the built-in default
// config) and seeds the warehouse and rule registries into the database on
// first use. Existing rows always win over config: the file is a seed, not
// a sync source.
func EnsureRegistry(ctx context.Context, workspace, actorID string, e engine.Engine) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	existing, err := e.Repo.ListWarehouses(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	if len(existing) == 0 {
		for _, w := range cfg.Warehouses {
			if _, err := e.CreateWarehouse(ctx, w.Grammar(), actorID); err != nil {
				return nil, fmt.Errorf("seed warehouse %s: %w", w.ID, err)
			}
		}
	}

	for _, rd := range cfg.Rules {
		if _, err := e.Repo.GetRule(ctx, rd.ID); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if _, err := e.CreateRule(ctx, rd.Rule(), actorID); err != nil {
			return nil, fmt.Errorf("seed rule %s: %w", rd.ID, err)
		}
	}
	return cfg, nil
}

// SnapshotLocations extracts the distinct non-empty location codes of a
// snapshot, preserving first-seen order.
func SnapshotLocations(snap domain.Snapshot) []string {
	seen := map[string]bool{}
	var out []string
	for _, row := range snap.Rows {
		if row.Location == "" || seen[row.Location] {
			continue
		}
		seen[row.Location] = true
		out = append(out, row.Location)
	}
	return out
}
