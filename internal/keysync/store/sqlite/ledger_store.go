package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/zenvinnovations/keysync/internal/db"
	"github.com/zenvinnovations/keysync/internal/keysync/store"
)

// LedgerStore implements store.Ledger on SQLite.  Reads go straight to the
// connection; every write runs through the single-writer Worker so each
// logical change commits atomically.
type LedgerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewLedgerStore(db *sql.DB, writer *dbpkg.Worker) *LedgerStore {
	return &LedgerStore{db: db, writer: writer}
}

// unavailable tags a driver failure so callers can match
// store.ErrUnavailable while keeping the cause in the chain.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(store.ErrUnavailable, err))
}

// CompileInput loads every compilation input inside one read transaction,
// so the compiler sees a single point-in-time view of the ledger.
func (s *LedgerStore) CompileInput(ctx context.Context) (store.CompileInput, error) {
	var in store.CompileInput

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return in, unavailable("CompileInput begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
SELECT access_point_id, facility, updated FROM access_points ORDER BY access_point_id;`)
	if err != nil {
		return in, unavailable("CompileInput access_points", err)
	}
	for rows.Next() {
		var ap store.AccessPointRow
		var facility sql.NullString
		var updated int
		if err := rows.Scan(&ap.ID, &facility, &updated); err != nil {
			rows.Close()
			return in, unavailable("CompileInput scan access_point", err)
		}
		if facility.Valid {
			f := facility.String
			ap.Facility = &f
		}
		ap.Dirty = updated == 1
		in.AccessPoints = append(in.AccessPoints, ap)
	}
	if err := closeRows(rows); err != nil {
		return in, unavailable("CompileInput access_points rows", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT uid, access_point_id, active FROM card_activations;`)
	if err != nil {
		return in, unavailable("CompileInput activations", err)
	}
	for rows.Next() {
		var a store.ActivationRow
		var active int
		if err := rows.Scan(&a.UID, &a.AccessPointID, &active); err != nil {
			rows.Close()
			return in, unavailable("CompileInput scan activation", err)
		}
		a.Active = active == 1
		in.Activations = append(in.Activations, a)
	}
	if err := closeRows(rows); err != nil {
		return in, unavailable("CompileInput activations rows", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT uid, package, access_point_id FROM card_packages;`)
	if err != nil {
		return in, unavailable("CompileInput packages", err)
	}
	for rows.Next() {
		var p store.PackageRow
		var scope string
		if err := rows.Scan(&p.UID, &p.Tier, &scope); err != nil {
			rows.Close()
			return in, unavailable("CompileInput scan package", err)
		}
		if scope != "" {
			sc := scope
			p.AccessPointID = &sc
		}
		in.Packages = append(in.Packages, p)
	}
	if err := closeRows(rows); err != nil {
		return in, unavailable("CompileInput packages rows", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT package, facility, has_access FROM entitlement_matrix;`)
	if err != nil {
		return in, unavailable("CompileInput matrix", err)
	}
	for rows.Next() {
		var m store.MatrixRow
		var has int
		if err := rows.Scan(&m.Tier, &m.Facility, &has); err != nil {
			rows.Close()
			return in, unavailable("CompileInput scan matrix", err)
		}
		m.HasAccess = has == 1
		in.Matrix = append(in.Matrix, m)
	}
	if err := closeRows(rows); err != nil {
		return in, unavailable("CompileInput matrix rows", err)
	}

	rows, err = tx.QueryContext(ctx, `
SELECT guest_id, name, uid, room_id, checkin_ms, checkout_ms FROM guests;`)
	if err != nil {
		return in, unavailable("CompileInput guests", err)
	}
	for rows.Next() {
		var g store.GuestRecord
		var checkinMs, checkoutMs int64
		if err := rows.Scan(&g.ID, &g.Name, &g.UID, &g.RoomID, &checkinMs, &checkoutMs); err != nil {
			rows.Close()
			return in, unavailable("CompileInput scan guest", err)
		}
		g.Checkin = time.UnixMilli(checkinMs).UTC()
		g.Checkout = time.UnixMilli(checkoutMs).UTC()
		in.Guests = append(in.Guests, g)
	}
	if err := closeRows(rows); err != nil {
		return in, unavailable("CompileInput guests rows", err)
	}

	if err := tx.Commit(); err != nil {
		return in, unavailable("CompileInput commit", err)
	}
	return in, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func (s *LedgerStore) PutAccessPoint(ctx context.Context, id string, facility *string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	now := time.Now().UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO access_points(access_point_id, facility, updated, created_at_ms, updated_at_ms)
VALUES (?, ?, 0, ?, ?)
ON CONFLICT(access_point_id) DO UPDATE SET
  facility = excluded.facility,
  updated_at_ms = excluded.updated_at_ms;`, id, nullString(facility), now, now)
		return err
	})
	if err != nil {
		return unavailable("PutAccessPoint", err)
	}
	return nil
}

func (s *LedgerStore) SetFacility(ctx context.Context, id string, facility *string) error {
	now := time.Now().UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
UPDATE access_points SET facility = ?, updated_at_ms = ? WHERE access_point_id = ?;`,
			nullString(facility), now, id)
		return err
	})
	if err != nil {
		return unavailable("SetFacility", err)
	}
	return nil
}

func (s *LedgerStore) DeleteAccessPoint(ctx context.Context, id string) error {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Activations and guest stays cascade via foreign keys; scoped
		// package assignments are cleaned up explicitly.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM card_packages WHERE access_point_id = ?;`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM access_points WHERE access_point_id = ?;`, id)
		return err
	})
	if err != nil {
		return unavailable("DeleteAccessPoint", err)
	}
	return nil
}

func (s *LedgerStore) GetAccessPoint(ctx context.Context, id string) (store.AccessPointRow, bool, error) {
	var ap store.AccessPointRow
	var facility sql.NullString
	var updated int
	err := s.db.QueryRowContext(ctx, `
SELECT access_point_id, facility, updated FROM access_points WHERE access_point_id = ?;`, id).
		Scan(&ap.ID, &facility, &updated)
	if err == sql.ErrNoRows {
		return ap, false, nil
	}
	if err != nil {
		return ap, false, unavailable("GetAccessPoint", err)
	}
	if facility.Valid {
		f := facility.String
		ap.Facility = &f
	}
	ap.Dirty = updated == 1
	return ap, true, nil
}

func (s *LedgerStore) FacilityAccessPointIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT access_point_id FROM access_points WHERE facility IS NOT NULL ORDER BY access_point_id;`)
	if err != nil {
		return nil, unavailable("FacilityAccessPointIDs", err)
	}
	return scanIDs(rows, "FacilityAccessPointIDs")
}

func (s *LedgerStore) SetActivation(ctx context.Context, uid, accessPointID string, active bool) error {
	now := time.Now().UTC().UnixMilli()
	act := 0
	if active {
		act = 1
	}
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO card_activations(uid, access_point_id, active, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(uid, access_point_id) DO UPDATE SET
  active = excluded.active,
  updated_at_ms = excluded.updated_at_ms;`, uid, accessPointID, act, now, now)
		return err
	})
	if err != nil {
		return unavailable("SetActivation", err)
	}
	return nil
}

func (s *LedgerStore) AccessPointIDsForCredential(ctx context.Context, uid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT access_point_id FROM card_activations WHERE uid = ? ORDER BY access_point_id;`, uid)
	if err != nil {
		return nil, unavailable("AccessPointIDsForCredential", err)
	}
	return scanIDs(rows, "AccessPointIDsForCredential")
}

func (s *LedgerStore) PutPackage(ctx context.Context, uid, tier string, accessPointID *string) error {
	now := time.Now().UTC().UnixMilli()
	scope := ""
	if accessPointID != nil {
		scope = *accessPointID
	}
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO card_packages(uid, package, access_point_id, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(uid, access_point_id) DO UPDATE SET
  package = excluded.package,
  updated_at_ms = excluded.updated_at_ms;`, uid, tier, scope, now, now)
		return err
	})
	if err != nil {
		return unavailable("PutPackage", err)
	}
	return nil
}

func (s *LedgerStore) DeletePackages(ctx context.Context, uid string) error {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM card_packages WHERE uid = ?;`, uid)
		return err
	})
	if err != nil {
		return unavailable("DeletePackages", err)
	}
	return nil
}

func (s *LedgerStore) UpsertMatrixEntry(ctx context.Context, tier, facility string, hasAccess bool) error {
	now := time.Now().UTC().UnixMilli()
	has := 0
	if hasAccess {
		has = 1
	}
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO entitlement_matrix(package, facility, has_access, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(package, facility) DO UPDATE SET
  has_access = excluded.has_access,
  updated_at_ms = excluded.updated_at_ms;`, tier, facility, has, now)
		return err
	})
	if err != nil {
		return unavailable("UpsertMatrixEntry", err)
	}
	return nil
}

func (s *LedgerStore) PutGuest(ctx context.Context, g store.GuestRecord) error {
	now := time.Now().UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO guests(guest_id, name, uid, room_id, checkin_ms, checkout_ms, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(guest_id) DO UPDATE SET
  name = excluded.name,
  uid = excluded.uid,
  room_id = excluded.room_id,
  checkin_ms = excluded.checkin_ms,
  checkout_ms = excluded.checkout_ms,
  updated_at_ms = excluded.updated_at_ms;`,
			g.ID, g.Name, g.UID, g.RoomID,
			g.Checkin.UTC().UnixMilli(), g.Checkout.UTC().UnixMilli(), now, now)
		return err
	})
	if err != nil {
		return unavailable("PutGuest", err)
	}
	return nil
}

func (s *LedgerStore) DeleteGuest(ctx context.Context, id string) error {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM guests WHERE guest_id = ?;`, id)
		return err
	})
	if err != nil {
		return unavailable("DeleteGuest", err)
	}
	return nil
}

func (s *LedgerStore) GetGuest(ctx context.Context, id string) (store.GuestRecord, bool, error) {
	var g store.GuestRecord
	var checkinMs, checkoutMs int64
	err := s.db.QueryRowContext(ctx, `
SELECT guest_id, name, uid, room_id, checkin_ms, checkout_ms FROM guests WHERE guest_id = ?;`, id).
		Scan(&g.ID, &g.Name, &g.UID, &g.RoomID, &checkinMs, &checkoutMs)
	if err == sql.ErrNoRows {
		return g, false, nil
	}
	if err != nil {
		return g, false, unavailable("GetGuest", err)
	}
	g.Checkin = time.UnixMilli(checkinMs).UTC()
	g.Checkout = time.UnixMilli(checkoutMs).UTC()
	return g, true, nil
}

func (s *LedgerStore) SetDirty(ctx context.Context, accessPointID string, dirty bool) error {
	now := time.Now().UTC().UnixMilli()
	val := 0
	if dirty {
		val = 1
	}
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
UPDATE access_points SET updated = ?, updated_at_ms = ? WHERE access_point_id = ?;`,
			val, now, accessPointID)
		return err
	})
	if err != nil {
		return unavailable("SetDirty", err)
	}
	return nil
}

func (s *LedgerStore) IsDirty(ctx context.Context, accessPointID string) (bool, error) {
	var updated int
	err := s.db.QueryRowContext(ctx,
		`SELECT updated FROM access_points WHERE access_point_id = ?;`, accessPointID).
		Scan(&updated)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable("IsDirty", err)
	}
	return updated == 1, nil
}

func (s *LedgerStore) DirtyAccessPointIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT access_point_id FROM access_points WHERE updated = 1 ORDER BY access_point_id;`)
	if err != nil {
		return nil, unavailable("DirtyAccessPointIDs", err)
	}
	return scanIDs(rows, "DirtyAccessPointIDs")
}

func scanIDs(rows *sql.Rows, op string) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, unavailable(op, err)
		}
		ids = append(ids, id)
	}
	if err := closeRows(rows); err != nil {
		return nil, unavailable(op, err)
	}
	return ids, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
