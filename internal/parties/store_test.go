package parties

import (
	"context"
	"testing"

	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/bananalabs-oss/pms/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreate_SingleActiveParty(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	first, err := store.Create(ctx, testutil.Staff, CreatePartyRequest{Title: "Jämsä Party 2025", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "jamsa-party-2025", first.Slug)

	_, err = store.Create(ctx, testutil.Staff, CreatePartyRequest{Title: "Second", IsActive: true})
	assert.ErrorIs(t, err, models.ErrConflict)

	inactive, err := store.Create(ctx, testutil.Staff, CreatePartyRequest{Title: "Second"})
	require.NoError(t, err)
	assert.False(t, inactive.IsActive)

	_, err = store.Create(ctx, testutil.Staff, CreatePartyRequest{Title: "Second"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = store.Create(ctx, testutil.Member, CreatePartyRequest{Title: "Third"})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = store.Create(ctx, testutil.Staff, CreatePartyRequest{Title: "  "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	active, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestActivate(t *testing.T) {
	db := testutil.NewDB(t)
	old := testutil.CreateParty(t, db, "Old", true)
	next := testutil.CreateParty(t, db, "Next", false)
	testutil.CreateCompo(t, db, next.ID, "Demo", models.VotingUpcoming, 0)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	_, err := store.Activate(ctx, testutil.Staff, next.ID, false)
	assert.ErrorIs(t, err, models.ErrConflict)

	party, err := store.Activate(ctx, testutil.Staff, next.ID, true)
	require.NoError(t, err)
	assert.True(t, party.IsActive)
	assert.Len(t, party.Compos, 1)

	prev, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsActive)

	_, err = store.Activate(ctx, testutil.Staff, uuid.New(), true)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.Activate(ctx, testutil.Member, old.ID, true)
	assert.ErrorIs(t, err, models.ErrForbidden)

	parties, err := store.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range parties {
		if p.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestActive_NoneActive(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.CreateParty(t, db, "Dormant", false)

	_, err := NewStore(db, zap.NewNop()).Active(context.Background())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
