package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Facilities to map to starter access points (e.g. Lounge, Spa, Pool, Gym).
	Facilities []string
}

// SeedDev inserts a minimal starter dataset so a fresh dev server has
// something to compile: two room access points, one access point per
// facility, a demo credential activated on room-101, and matrix rows
// denying General everywhere.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	for _, id := range []string{"room-101", "room-102"} {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO access_points(access_point_id, facility, updated, created_at_ms, updated_at_ms)
VALUES (?, NULL, 0, ?, ?);`, id, now, now); err != nil {
			return fmt.Errorf("seed room %s: %w", id, err)
		}
	}

	for i, f := range opt.Facilities {
		apID := fmt.Sprintf("facility-%02d", i+1)
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO access_points(access_point_id, facility, updated, created_at_ms, updated_at_ms)
VALUES (?, ?, 0, ?, ?);`, apID, f, now, now); err != nil {
			return fmt.Errorf("seed facility %s: %w", f, err)
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO entitlement_matrix(package, facility, has_access, updated_at_ms)
VALUES ('General', ?, 0, ?)
ON CONFLICT(package, facility) DO NOTHING;`, f, now); err != nil {
			return fmt.Errorf("seed matrix row %s: %w", f, err)
		}
	}

	// Demo credential: General tier, active on room-101.
	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO card_activations(uid, access_point_id, active, created_at_ms, updated_at_ms)
VALUES ('04AABBCC', 'room-101', 1, ?, ?);`, now, now); err != nil {
		return fmt.Errorf("seed activation: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO card_packages(uid, package, access_point_id, created_at_ms, updated_at_ms)
VALUES ('04AABBCC', 'General', 'room-101', ?, ?);`, now, now); err != nil {
		return fmt.Errorf("seed package: %w", err)
	}

	return nil
}
