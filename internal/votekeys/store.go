package votekeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type Store struct {
	db  bun.IDB
	log *zap.Logger
}

func NewStore(db bun.IDB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// ImportResult summarizes a bulk import. Failed lists the keys that already
// existed in the party, or appeared earlier in the same batch.
type ImportResult struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Failed       []string `json:"failed"`
}

// Validate looks a raw key up within a party. An unknown key is reported as
// models.ErrUnauthenticated so callers can send the voter back to the login.
func (s *Store) Validate(ctx context.Context, partyID uuid.UUID, key string) (*models.VoteKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, models.ErrUnauthenticated
	}

	vk := new(models.VoteKey)
	err := s.db.NewSelect().
		Model(vk).
		Where("vk.party_id = ?", partyID).
		Where("vk.vote_key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUnauthenticated
	}
	if err != nil {
		s.log.Error("failed to look up vote key", zap.Error(err))
		return nil, fmt.Errorf("votekeys: lookup: %w", err)
	}
	return vk, nil
}

// BulkImport creates one key per non-empty line of text. A key that collides
// with an existing (party, key) pair is counted as a failure and skipped; the
// rest of the batch still goes in.
func (s *Store) BulkImport(ctx context.Context, partyID uuid.UUID, text string) (ImportResult, error) {
	exists, err := s.db.NewSelect().
		Model((*models.Party)(nil)).
		Where("id = ?", partyID).
		Exists(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("votekeys: party lookup: %w", err)
	}
	if !exists {
		return ImportResult{}, fmt.Errorf("party %s: %w", partyID, models.ErrNotFound)
	}

	result := ImportResult{Failed: []string{}}
	now := time.Now().UTC()

	for _, line := range strings.Split(text, "\n") {
		key := strings.TrimSpace(line)
		if key == "" {
			continue
		}

		vk := &models.VoteKey{
			ID:        uuid.New(),
			PartyID:   partyID,
			Key:       key,
			CreatedAt: now,
		}
		res, err := s.db.NewInsert().
			Model(vk).
			On("CONFLICT (party_id, vote_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			s.log.Error("failed to insert vote key", zap.String("party_id", partyID.String()), zap.Error(err))
			return result, fmt.Errorf("votekeys: insert: %w", err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			result.FailureCount++
			result.Failed = append(result.Failed, key)
			continue
		}
		result.SuccessCount++
	}

	s.log.Info("vote keys imported",
		zap.String("party_id", partyID.String()),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
	)
	return result, nil
}

func (s *Store) Count(ctx context.Context, partyID uuid.UUID) (int, error) {
	return s.db.NewSelect().
		Model((*models.VoteKey)(nil)).
		Where("party_id = ?", partyID).
		Count(ctx)
}
