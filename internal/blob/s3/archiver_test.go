package s3blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leverbot/leverbot/internal/domain"
	"github.com/leverbot/leverbot/internal/store/memory"
)

// captureWriter records uploaded keys, optionally failing every Put.
type captureWriter struct {
	keys []string
	err  error
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return err
	}
	w.keys = append(w.keys, path)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closedPosition(id string, closedAt time.Time) domain.Position {
	return domain.Position{
		ID:            id,
		Venue:         "hyperbit",
		Symbol:        "BTC-PERP",
		Direction:     domain.DirectionLong,
		Status:        domain.PositionStatusClosed,
		CreatedAt:     closedAt.Add(-time.Hour),
		ClosedAt:      &closedAt,
		RealizedPnL:   12.5,
		FilledSize:    1,
		RemainingSize: 0,
	}
}

func newArchiverAt(t *testing.T, w domain.BlobWriter, runAt time.Time) (*Archiver, *memory.PositionStore, *memory.AuditStore) {
	t.Helper()
	positions := memory.NewPositionStore()
	audit := memory.NewAuditStore()
	a := NewArchiver(w, positions, audit, testLogger())
	a.now = func() time.Time { return runAt }
	return a, positions, audit
}

func TestArchivePositionsPrunesAfterUpload(t *testing.T) {
	ctx := context.Background()
	runAt := time.Date(2026, 8, 31, 4, 0, 0, 0, time.UTC)
	w := &captureWriter{}
	a, positions, _ := newArchiverAt(t, w, runAt)

	closed := runAt.Add(-40 * 24 * time.Hour)
	require.NoError(t, positions.Create(ctx, closedPosition("p1", closed)))
	require.NoError(t, positions.Create(ctx, closedPosition("p2", closed)))

	total, err := a.ArchivePositions(ctx, runAt.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Equal(t, []string{"archive/positions/2026-08-31T04-00-00-000.jsonl"}, w.keys)

	_, err = positions.GetByID(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Two runs in the same month must never write the same object key: rows
// pruned after the first upload would otherwise vanish when the second run
// overwrites it.
func TestArchiveRunsUseDistinctKeys(t *testing.T) {
	ctx := context.Background()
	w := &captureWriter{}
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	firstRun := time.Date(2026, 8, 30, 4, 0, 0, 0, time.UTC)
	a1, positions1, _ := newArchiverAt(t, w, firstRun)
	require.NoError(t, positions1.Create(ctx, closedPosition("p1", cutoff.Add(-time.Hour))))
	_, err := a1.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)

	secondRun := time.Date(2026, 8, 31, 4, 0, 0, 0, time.UTC)
	a2, positions2, _ := newArchiverAt(t, w, secondRun)
	require.NoError(t, positions2.Create(ctx, closedPosition("p2", cutoff.Add(-time.Hour))))
	_, err = a2.ArchivePositions(ctx, cutoff)
	require.NoError(t, err)

	require.Len(t, w.keys, 2)
	assert.NotEqual(t, w.keys[0], w.keys[1])
}

func TestArchivePositionsUploadFailureLeavesRows(t *testing.T) {
	ctx := context.Background()
	w := &captureWriter{err: errors.New("s3 unavailable")}
	a, positions, _ := newArchiverAt(t, w, time.Now().UTC())

	closed := time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, positions.Create(ctx, closedPosition("p1", closed)))

	_, err := a.ArchivePositions(ctx, time.Now().UTC())
	require.Error(t, err)

	got, err := positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
}

func TestArchiveAuditUploadsThenPrunes(t *testing.T) {
	ctx := context.Background()
	runAt := time.Date(2026, 8, 31, 4, 0, 0, 0, time.UTC)
	w := &captureWriter{}
	a, _, audit := newArchiverAt(t, w, runAt)

	require.NoError(t, audit.Log(ctx, "position_opened", map[string]any{"position_id": "p1"}))
	require.NoError(t, audit.Log(ctx, "position_closed", map[string]any{"position_id": "p1"}))

	pruned, err := a.ArchiveAudit(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
	require.Equal(t, []string{"archive/audit/2026-08-31T04-00-00.jsonl"}, w.keys)

	rows, err := audit.ListBefore(ctx, time.Now().UTC().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestArchiveAuditUploadFailureSkipsPrune(t *testing.T) {
	ctx := context.Background()
	w := &captureWriter{err: errors.New("s3 unavailable")}
	a, _, audit := newArchiverAt(t, w, time.Now().UTC())

	require.NoError(t, audit.Log(ctx, "position_opened", map[string]any{"position_id": "p1"}))

	_, err := a.ArchiveAudit(ctx, time.Now().UTC().Add(time.Hour))
	require.Error(t, err)

	rows, err := audit.ListBefore(ctx, time.Now().UTC().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
