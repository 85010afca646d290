package parties

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bananalabs-oss/pms/internal/auth"
	"github.com/bananalabs-oss/pms/internal/database"
	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

type Store struct {
	db  *bun.DB
	log *zap.Logger
}

func NewStore(db *bun.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

type CreatePartyRequest struct {
	Title    string `json:"title" binding:"required"`
	IsActive bool   `json:"is_active"`
}

func (s *Store) Get(ctx context.Context, partyID uuid.UUID) (*models.Party, error) {
	party := new(models.Party)
	err := s.db.NewSelect().
		Model(party).
		Relation("Compos").
		Where("p.id = ?", partyID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("party %s: %w", partyID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("parties: fetch: %w", err)
	}
	return party, nil
}

func (s *Store) List(ctx context.Context) ([]models.Party, error) {
	parties := []models.Party{}
	err := s.db.NewSelect().
		Model(&parties).
		OrderExpr("p.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("parties: list: %w", err)
	}
	return parties, nil
}

// Active returns the one party flagged active.
func (s *Store) Active(ctx context.Context) (*models.Party, error) {
	party := new(models.Party)
	err := s.db.NewSelect().
		Model(party).
		Relation("Compos").
		Where("p.is_active = ?", true).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active party: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("parties: active: %w", err)
	}
	return party, nil
}

// Create inserts a party. An active party is refused while another party is
// active.
func (s *Store) Create(ctx context.Context, caller auth.Caller, req CreatePartyRequest) (*models.Party, error) {
	if !caller.Has(auth.CapStaff) {
		return nil, models.ErrForbidden
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	slug := models.Slugify(title)
	if slug == "" {
		return nil, fmt.Errorf("%w: title must contain letters or digits", models.ErrInvalidInput)
	}

	now := time.Now().UTC()
	party := &models.Party{
		ID:        uuid.New(),
		Title:     title,
		Slug:      slug,
		IsActive:  req.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if party.IsActive {
			if err := ensureNoOtherActive(ctx, tx, party.ID); err != nil {
				return err
			}
		}
		_, err := tx.NewInsert().Model(party).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, s.writeError("create", err)
	}

	s.log.Info("party created",
		zap.String("party_id", party.ID.String()),
		zap.String("slug", slug),
		zap.Bool("active", party.IsActive),
	)
	return party, nil
}

// Activate marks a party active. With deactivateOthers the previously active
// party is switched off in the same transaction; without it the call fails
// while another party is active.
func (s *Store) Activate(ctx context.Context, caller auth.Caller, partyID uuid.UUID, deactivateOthers bool) (*models.Party, error) {
	if !caller.Has(auth.CapStaff) {
		return nil, models.ErrForbidden
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Party)(nil)).
			Where("id = ?", partyID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("party %s: %w", partyID, models.ErrNotFound)
		}

		now := time.Now().UTC()
		if deactivateOthers {
			_, err := tx.NewUpdate().
				Model((*models.Party)(nil)).
				Set("is_active = ?", false).
				Set("updated_at = ?", now).
				Where("id != ?", partyID).
				Where("is_active = ?", true).
				Exec(ctx)
			if err != nil {
				return err
			}
		} else if err := ensureNoOtherActive(ctx, tx, partyID); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Party)(nil)).
			Set("is_active = ?", true).
			Set("updated_at = ?", now).
			Where("id = ?", partyID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, s.writeError("activate", err)
	}

	s.log.Info("party activated", zap.String("party_id", partyID.String()))
	return s.Get(ctx, partyID)
}

func ensureNoOtherActive(ctx context.Context, tx bun.Tx, partyID uuid.UUID) error {
	other, err := tx.NewSelect().
		Model((*models.Party)(nil)).
		Where("is_active = ?", true).
		Where("id != ?", partyID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if other {
		return fmt.Errorf("%w: only one party can be active at the same time", models.ErrConflict)
	}
	return nil
}

func (s *Store) writeError(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrNotFound):
		return err
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: a party with this title exists or another party is active", models.ErrConflict)
	}
	s.log.Error("party write failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("parties: %s: %w", op, err)
}
