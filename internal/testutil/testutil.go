// Package testutil builds throwaway databases and fixtures for tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/database"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var (
	Staff  = auth.NewCaller("staff-1", auth.CapStaff)
	Member = auth.NewCaller("member-1")
)

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Connect(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db, zap.NewNop()))
	return db
}

func CreateParty(t *testing.T, db *bun.DB, title string, active bool) *models.Party {
	t.Helper()

	now := time.Now().UTC()
	party := &models.Party{
		ID:        uuid.New(),
		Title:     title,
		Slug:      models.Slugify(title),
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := db.NewInsert().Model(party).Exec(context.Background())
	require.NoError(t, err)
	return party
}

func CreateCompo(t *testing.T, db *bun.DB, partyID uuid.UUID, title string, status models.VotingStatus, pos int) *models.Compo {
	t.Helper()

	now := time.Now().UTC()
	compo := &models.Compo{
		ID:                 uuid.New(),
		PartyID:            partyID,
		Title:              title,
		SubmissionDeadline: now.Add(time.Hour),
		MetadataDeadline:   now.Add(2 * time.Hour),
		VotingStatus:       status,
		CurrentEntryPos:    pos,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	_, err := db.NewInsert().Model(compo).Exec(context.Background())
	require.NoError(t, err)
	return compo
}

// AddEntries creates one entry per title with order 0, 1, 2, ...
func AddEntries(t *testing.T, db *bun.DB, compoID uuid.UUID, titles ...string) []models.Entry {
	t.Helper()

	now := time.Now().UTC()
	entries := make([]models.Entry, len(titles))
	for i, title := range titles {
		entries[i] = models.Entry{
			ID:        uuid.New(),
			CompoID:   compoID,
			Title:     title,
			Team:      "team " + title,
			Platform:  "WEB",
			Order:     i,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := db.NewInsert().Model(&entries[i]).Exec(context.Background())
		require.NoError(t, err)
	}
	return entries
}

func CreateVoteKey(t *testing.T, db *bun.DB, partyID uuid.UUID, key string) *models.VoteKey {
	t.Helper()

	vk := &models.VoteKey{
		ID:        uuid.New(),
		PartyID:   partyID,
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.NewInsert().Model(vk).Exec(context.Background())
	require.NoError(t, err)
	return vk
}

func SetStatus(t *testing.T, db *bun.DB, compoID uuid.UUID, status models.VotingStatus, pos int) {
	t.Helper()

	_, err := db.NewUpdate().
		Model((*models.Compo)(nil)).
		Set("voting_status = ?", status).
		Set("current_entry_pos = ?", pos).
		Where("id = ?", compoID).
		Exec(context.Background())
	require.NoError(t, err)
}
