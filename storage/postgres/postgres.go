// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The config_envelopes table uses a composite primary key (device_id,
// config_id) that mirrors the key space used by the BBolt and in-memory
// backends. The serialized envelope is stored as BYTEA alongside its
// revision and store time.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/altimation/controlsuite/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Put(deviceID, configID string, rec *storage.Record) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO config_envelopes (device_id, config_id, document, revision, stored_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (device_id, config_id)
		 DO UPDATE SET document = $3, revision = $4, stored_at = $5`,
		deviceID, configID, rec.Document, rec.Revision, rec.StoredAt)
	return err
}

// PutCAS relies on single-statement atomicity: the insert only succeeds when
// no row exists, and the update only matches the expected revision.
func (s *Store) PutCAS(deviceID, configID string, expectedRevision uint64, rec *storage.Record) error {
	ctx := context.Background()
	var (
		affected int64
		err      error
	)
	if expectedRevision == 0 {
		tag, execErr := s.pool.Exec(ctx,
			`INSERT INTO config_envelopes (device_id, config_id, document, revision, stored_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (device_id, config_id) DO NOTHING`,
			deviceID, configID, rec.Document, rec.Revision, rec.StoredAt)
		affected, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := s.pool.Exec(ctx,
			`UPDATE config_envelopes SET document = $4, revision = $5, stored_at = $6
			 WHERE device_id = $1 AND config_id = $2 AND revision = $3`,
			deviceID, configID, expectedRevision, rec.Document, rec.Revision, rec.StoredAt)
		affected, err = tag.RowsAffected(), execErr
	}
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrCASFailed
	}
	return nil
}

func (s *Store) Get(deviceID, configID string) (*storage.Record, error) {
	ctx := context.Background()
	var rec storage.Record
	err := s.pool.QueryRow(ctx,
		`SELECT document, revision, stored_at
		 FROM config_envelopes WHERE device_id = $1 AND config_id = $2`,
		deviceID, configID).Scan(&rec.Document, &rec.Revision, &rec.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(ctx, s.pool, deviceID, configID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(deviceID string) ([]string, error) {
	return s.queryIDs(
		`SELECT config_id FROM config_envelopes WHERE device_id = $1 ORDER BY config_id COLLATE "C"`,
		deviceID)
}

func (s *Store) ListDevices() ([]string, error) {
	return s.queryIDs(
		`SELECT DISTINCT device_id FROM config_envelopes ORDER BY device_id COLLATE "C"`)
}

func (s *Store) queryIDs(sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(context.Background(), sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(deviceID, configID string) error {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM config_envelopes WHERE device_id = $1 AND config_id = $2`,
		deviceID, configID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(ctx, s.pool, deviceID, configID)
	}
	return nil
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a missing device from a missing configuration
// within an existing device, matching the BBolt backend. A failed lookup is
// returned as is rather than reported as not found.
func notFoundError(ctx context.Context, q querier, deviceID, configID string) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM config_envelopes WHERE device_id = $1 LIMIT 1)`,
		deviceID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking device %s: %w", deviceID, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", deviceID, storage.ErrDeviceNotFound)
	}
	return fmt.Errorf("%s/%s: %w", deviceID, configID, storage.ErrNotFound)
}
