package votes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bananalabs-oss/pms/internal/compos"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/bananalabs-oss/pms/internal/ranking"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Ledger records at most one vote per (vote key, entry). Votes are only ever
// inserted or overwritten; nothing here deletes them.
type Ledger struct {
	db     *bun.DB
	compos *compos.Service
	log    *zap.Logger
}

func NewLedger(db *bun.DB, compoService *compos.Service, log *zap.Logger) *Ledger {
	return &Ledger{db: db, compos: compoService, log: log}
}

func ValidPoints(points int) bool {
	return points >= models.MinPoints && points <= models.MaxPoints
}

// Cast records points for an entry under the given key, replacing any
// earlier vote by the same key for that entry, and returns the stored vote.
// The entry must belong to the key's party and be votable right now.
func (l *Ledger) Cast(ctx context.Context, key *models.VoteKey, entryID uuid.UUID, points int) (*models.Vote, error) {
	if key == nil {
		return nil, models.ErrUnauthenticated
	}
	if !ValidPoints(points) {
		return nil, fmt.Errorf("%w: points must be between %d and %d", models.ErrInvalidInput, models.MinPoints, models.MaxPoints)
	}

	entry, err := l.compos.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	compo, entries, err := l.compos.EligibleEntries(ctx, entry.CompoID)
	if err != nil {
		return nil, err
	}
	if compo.PartyID != key.PartyID {
		return nil, fmt.Errorf("%w: vote key belongs to another party", models.ErrUnauthenticated)
	}
	if !compos.IsEligible(compo, entries, entryID) {
		return nil, models.ErrVotingClosed
	}

	vote := new(models.Vote)
	err = l.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		candidate := &models.Vote{
			ID:        uuid.New(),
			EntryID:   entryID,
			VoteKeyID: key.ID,
			Points:    points,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := tx.NewInsert().
			Model(candidate).
			On("CONFLICT (entry_id, vote_key_id) DO UPDATE").
			Set("points = EXCLUDED.points").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return err
		}

		return tx.NewSelect().
			Model(vote).
			Where("v.entry_id = ?", entryID).
			Where("v.vote_key_id = ?", key.ID).
			Scan(ctx)
	})
	if err != nil {
		l.log.Error("failed to cast vote", zap.String("entry_id", entryID.String()), zap.Error(err))
		return nil, fmt.Errorf("votes: cast: %w", err)
	}

	l.log.Debug("vote cast",
		zap.String("entry_id", entryID.String()),
		zap.String("vote_id", vote.ID.String()),
		zap.Int("points", points),
	)
	return vote, nil
}

// VotesFor returns the votes a key has cast for the given entries, keyed by
// entry ID. Entries without a vote are absent from the map.
func (l *Ledger) VotesFor(ctx context.Context, keyID uuid.UUID, entryIDs []uuid.UUID) (map[uuid.UUID]models.Vote, error) {
	out := make(map[uuid.UUID]models.Vote, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}

	var found []models.Vote
	err := l.db.NewSelect().
		Model(&found).
		Where("v.vote_key_id = ?", keyID).
		Where("v.entry_id IN (?)", bun.In(entryIDs)).
		Scan(ctx)
	if err != nil {
		l.log.Error("failed to fetch votes", zap.Error(err))
		return nil, fmt.Errorf("votes: lookup: %w", err)
	}

	for _, v := range found {
		out[v.EntryID] = v
	}
	return out, nil
}

// Totals sums the points of every vote for each entry. Entries without votes
// are left out; ranking.FromTotals treats them as zero.
func (l *Ledger) Totals(ctx context.Context, entryIDs []uuid.UUID) (map[string]int, error) {
	totals := make(map[string]int, len(entryIDs))
	if len(entryIDs) == 0 {
		return totals, nil
	}

	var rows []struct {
		EntryID string `bun:"entry_id"`
		Total   int    `bun:"total"`
	}
	err := l.db.NewSelect().
		Model((*models.Vote)(nil)).
		ColumnExpr("v.entry_id").
		ColumnExpr("COALESCE(SUM(v.points), 0) AS total").
		Where("v.entry_id IN (?)", bun.In(entryIDs)).
		GroupExpr("v.entry_id").
		Scan(ctx, &rows)
	if err != nil {
		l.log.Error("failed to total votes", zap.Error(err))
		return nil, fmt.Errorf("votes: totals: %w", err)
	}

	for _, r := range rows {
		totals[r.EntryID] = r.Total
	}
	return totals, nil
}

// Standings ranks every entry of a compo by the votes recorded so far.
func (l *Ledger) Standings(ctx context.Context, compoID uuid.UUID) (*models.Compo, []ranking.Placement, error) {
	compo, err := l.compos.Get(ctx, compoID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := l.compos.Entries(ctx, compoID)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	totals, err := l.Totals(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	return compo, ranking.Rank(ranking.FromTotals(entries, totals)), nil
}
