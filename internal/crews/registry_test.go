package crews

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/storage"
	"github.com/bissquit/wastewatch/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndList(t *testing.T) {
	store := memory.New()
	registry := NewRegistry(store)
	ctx := context.Background()

	tick := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	registry.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	alpha, err := registry.Register(ctx, Input{Name: "Alpha Team", Location: "Sector 4"})
	require.NoError(t, err)
	bravo, err := registry.Register(ctx, Input{Name: "Bravo Team", Location: "Sector 9"})
	require.NoError(t, err)

	assert.Equal(t, domain.CrewStatusAvailable, alpha.Status)

	list, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, alpha.ID, list[0].ID)
	assert.Equal(t, bravo.ID, list[1].ID)

	got, err := registry.Get(ctx, bravo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sector 9", got.Location)

	_, err = registry.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = registry.Register(ctx, Input{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestMarkDispatchedAndAvailable(t *testing.T) {
	store := memory.New()
	registry := NewRegistry(store)
	ctx := context.Background()

	alpha, err := registry.Register(ctx, Input{Name: "Alpha"})
	require.NoError(t, err)
	bravo, err := registry.Register(ctx, Input{Name: "Bravo"})
	require.NoError(t, err)

	err = store.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := MarkDispatched(ctx, tx, alpha.ID)
		return err
	})
	require.NoError(t, err)

	available, err := registry.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, bravo.ID, available[0].ID)

	err = store.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := MarkDispatched(ctx, tx, alpha.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrCrewUnavailable)

	for i := 0; i < 2; i++ {
		err = store.Atomically(ctx, func(ctx context.Context, tx storage.Tx) error {
			crew, err := MarkAvailable(ctx, tx, alpha.ID)
			if err == nil {
				assert.Equal(t, domain.CrewStatusAvailable, crew.Status)
			}
			return err
		})
		require.NoError(t, err)
	}

	available, err = registry.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 2)
	assert.Equal(t, alpha.ID, available[0].ID, "registration order is kept after release")
}
