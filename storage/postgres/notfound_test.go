package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altimation/controlsuite/storage"
)

type stubRow struct {
	exists bool
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.exists
	return nil
}

type stubQuerier struct{ row stubRow }

func (q stubQuerier) QueryRow(context.Context, string, ...any) pgx.Row { return q.row }

func TestNotFoundError(t *testing.T) {
	ctx := context.Background()

	err := notFoundError(ctx, stubQuerier{stubRow{exists: false}}, "fc-001", "primary")
	require.ErrorIs(t, err, storage.ErrDeviceNotFound)

	err = notFoundError(ctx, stubQuerier{stubRow{exists: true}}, "fc-001", "primary")
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.NotErrorIs(t, err, storage.ErrDeviceNotFound)

	outage := errors.New("connection refused")
	err = notFoundError(ctx, stubQuerier{stubRow{err: outage}}, "fc-001", "primary")
	require.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	assert.NotErrorIs(t, err, storage.ErrDeviceNotFound)
}
