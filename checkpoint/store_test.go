package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexshd/homeostat"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, Snapshot{
		Reason: ReasonAdvised,
		State: homeostat.ControlState{
			Integral:      120.5,
			PreviousError: 60,
			LastMode:      homeostat.Unwrap,
			Ticks:         42,
		},
		LatencyP99: 260,
		Lmax:       200,
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	require.False(t, saved.CreatedAt.IsZero())

	got, err := s.Load(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)
	require.Equal(t, ReasonAdvised, got.Reason)
	require.Equal(t, saved.State, got.State)
	require.Equal(t, 260.0, got.LatencyP99)
	require.True(t, saved.CreatedAt.Equal(got.CreatedAt))
}

func TestLoadMissing(t *testing.T) {
	s := tempStore(t)

	_, err := s.Load(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Latest(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestAndList(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		snap, err := s.Save(ctx, Snapshot{
			State:     homeostat.ControlState{Ticks: uint64(i), LastMode: homeostat.Steady},
			Lmax:      200,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.Equal(t, ReasonManual, snap.Reason)
		ids = append(ids, snap.ID)
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, ids[2], latest.ID)

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ids[2], list[0].ID)
	require.Equal(t, ids[1], list[1].ID)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestDuplicateID(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, Snapshot{ID: "fixed", State: homeostat.ControlState{LastMode: homeostat.Wrap}})
	require.NoError(t, err)

	_, err = s.Save(ctx, Snapshot{ID: "fixed"})
	require.Error(t, err)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	s, err := Open(path)
	require.NoError(t, err)
	saved, err := s.Save(context.Background(), Snapshot{State: homeostat.ControlState{Integral: 7}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)
	require.Equal(t, 7.0, got.State.Integral)
}
