package compos

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

const maxEntryTitle = 32

type Service struct {
	db  bun.IDB
	log *zap.Logger
}

func NewService(db bun.IDB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

type CreateCompoRequest struct {
	Title              string    `json:"title" binding:"required"`
	SubmissionDeadline time.Time `json:"submission_deadline" binding:"required"`
	MetadataDeadline   time.Time `json:"metadata_deadline"`
}

type AddEntryRequest struct {
	Title    string `json:"title" binding:"required"`
	Team     string `json:"team"`
	Platform string `json:"platform"`
	Order    *int   `json:"order"`
}

// AdvanceRequest moves the live cursor. A nil CurrentEntry leaves the cursor
// where it is.
type AdvanceRequest struct {
	CompoID      string `json:"compo_id"`
	CurrentEntry *int   `json:"current_entry"`
}

func (s *Service) Get(ctx context.Context, compoID uuid.UUID) (*models.Compo, error) {
	compo := new(models.Compo)
	err := s.db.NewSelect().
		Model(compo).
		Where("c.id = ?", compoID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compo %s: %w", compoID, models.ErrNotFound)
	}
	if err != nil {
		s.log.Error("failed to fetch compo", zap.String("compo_id", compoID.String()), zap.Error(err))
		return nil, fmt.Errorf("compos: fetch: %w", err)
	}
	return compo, nil
}

// GetWithEntries loads a compo and its entries in presentation order.
func (s *Service) GetWithEntries(ctx context.Context, compoID uuid.UUID) (*models.Compo, error) {
	compo, err := s.Get(ctx, compoID)
	if err != nil {
		return nil, err
	}
	entries, err := s.Entries(ctx, compoID)
	if err != nil {
		return nil, err
	}
	compo.Entries = entries
	return compo, nil
}

// Entries returns a compo's entries ordered by their operator-assigned order.
func (s *Service) Entries(ctx context.Context, compoID uuid.UUID) ([]models.Entry, error) {
	entries := []models.Entry{}
	err := s.db.NewSelect().
		Model(&entries).
		Where("e.compo_id = ?", compoID).
		OrderExpr("e.sort_order ASC, e.created_at ASC, e.id ASC").
		Scan(ctx)
	if err != nil {
		s.log.Error("failed to fetch entries", zap.String("compo_id", compoID.String()), zap.Error(err))
		return nil, fmt.Errorf("compos: entries: %w", err)
	}
	return entries, nil
}

func (s *Service) GetEntry(ctx context.Context, entryID uuid.UUID) (*models.Entry, error) {
	entry := new(models.Entry)
	err := s.db.NewSelect().
		Model(entry).
		Where("e.id = ?", entryID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", entryID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("compos: fetch entry: %w", err)
	}
	return entry, nil
}

// EligibleEntries loads a compo and the entries that are votable right now.
func (s *Service) EligibleEntries(ctx context.Context, compoID uuid.UUID) (*models.Compo, []models.Entry, error) {
	compo, err := s.Get(ctx, compoID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.Entries(ctx, compoID)
	if err != nil {
		return nil, nil, err
	}
	return compo, EligibleEntries(compo, entries), nil
}

func (s *Service) Create(ctx context.Context, caller auth.Caller, partyID uuid.UUID, req CreateCompoRequest) (*models.Compo, error) {
	if !caller.Has(auth.CapStaff) {
		return nil, models.ErrForbidden
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if req.SubmissionDeadline.IsZero() {
		return nil, fmt.Errorf("%w: submission_deadline is required", models.ErrInvalidInput)
	}
	metadataDeadline := req.MetadataDeadline
	if metadataDeadline.IsZero() {
		metadataDeadline = req.SubmissionDeadline
	}
	if metadataDeadline.Before(req.SubmissionDeadline) {
		return nil, fmt.Errorf("%w: metadata_deadline is before submission_deadline", models.ErrInvalidInput)
	}

	exists, err := s.db.NewSelect().
		Model((*models.Party)(nil)).
		Where("id = ?", partyID).
		Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("compos: party lookup: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("party %s: %w", partyID, models.ErrNotFound)
	}

	now := time.Now().UTC()
	compo := &models.Compo{
		ID:                 uuid.New(),
		PartyID:            partyID,
		Title:              title,
		SubmissionDeadline: req.SubmissionDeadline.UTC(),
		MetadataDeadline:   metadataDeadline.UTC(),
		VotingStatus:       models.VotingUpcoming,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := s.db.NewInsert().Model(compo).Exec(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: compo %q already exists in this party", models.ErrConflict, title)
		}
		s.log.Error("failed to create compo", zap.Error(err))
		return nil, fmt.Errorf("compos: create: %w", err)
	}

	s.log.Info("compo created", zap.String("compo_id", compo.ID.String()), zap.String("title", title))
	return compo, nil
}

func (s *Service) AddEntry(ctx context.Context, caller auth.Caller, compoID uuid.UUID, req AddEntryRequest) (*models.Entry, error) {
	if !caller.Has(auth.CapStaff) {
		return nil, models.ErrForbidden
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || len([]rune(title)) > maxEntryTitle {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", models.ErrInvalidInput, maxEntryTitle)
	}
	if req.Order != nil && *req.Order < 0 {
		return nil, fmt.Errorf("%w: order must not be negative", models.ErrInvalidInput)
	}

	if _, err := s.Get(ctx, compoID); err != nil {
		return nil, err
	}

	order := 0
	if req.Order != nil {
		order = *req.Order
	} else {
		n, err := s.db.NewSelect().
			Model((*models.Entry)(nil)).
			Where("compo_id = ?", compoID).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("compos: count entries: %w", err)
		}
		order = n
	}

	now := time.Now().UTC()
	entry := &models.Entry{
		ID:        uuid.New(),
		CompoID:   compoID,
		Title:     title,
		Team:      strings.TrimSpace(req.Team),
		Platform:  strings.TrimSpace(req.Platform),
		Order:     order,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		s.log.Error("failed to add entry", zap.String("compo_id", compoID.String()), zap.Error(err))
		return nil, fmt.Errorf("compos: add entry: %w", err)
	}
	return entry, nil
}

// AdvanceCurrentEntry sets the live cursor of a compo. The compo must
// resolve even when CurrentEntry is nil, in which case nothing changes.
func (s *Service) AdvanceCurrentEntry(ctx context.Context, caller auth.Caller, req AdvanceRequest) (*models.Compo, error) {
	if !caller.Has(auth.CapStaff) {
		return nil, models.ErrForbidden
	}

	if strings.TrimSpace(req.CompoID) == "" {
		return nil, fmt.Errorf("%w: compo_id is required", models.ErrInvalidInput)
	}
	compoID, err := uuid.Parse(req.CompoID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid compo_id", models.ErrInvalidInput)
	}
	compo, err := s.Get(ctx, compoID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown compo_id", models.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	if req.CurrentEntry == nil {
		return compo, nil
	}
	if *req.CurrentEntry < 0 {
		return nil, fmt.Errorf("%w: current_entry must not be negative", models.ErrInvalidInput)
	}

	now := time.Now().UTC()
	_, err = s.db.NewUpdate().
		Model((*models.Compo)(nil)).
		Set("current_entry_pos = ?", *req.CurrentEntry).
		Set("updated_at = ?", now).
		Where("id = ?", compoID).
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to advance entry", zap.String("compo_id", compoID.String()), zap.Error(err))
		return nil, fmt.Errorf("compos: advance: %w", err)
	}

	s.log.Info("live entry advanced",
		zap.String("compo_id", compoID.String()),
		zap.Int("from", compo.CurrentEntryPos),
		zap.Int("to", *req.CurrentEntry),
	)
	compo.CurrentEntryPos = *req.CurrentEntry
	compo.UpdatedAt = now
	return compo, nil
}

// SetStatus moves a compo to another voting phase. Backward moves are
// rejected unless force is set, which is how operators undo a mistake.
func (s *Service) SetStatus(ctx context.Context, caller auth.Caller, compoID uuid.UUID, status models.VotingStatus, force bool) (*models.Compo, error) {
	if !caller.Has(auth.CapStaff) {
		return nil, models.ErrForbidden
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown voting status %q", models.ErrInvalidInput, string(status))
	}

	compo, err := s.Get(ctx, compoID)
	if err != nil {
		return nil, err
	}

	if err := CanTransition(compo.VotingStatus, status); err != nil {
		if !force {
			s.log.Warn("voting status change rejected",
				zap.String("compo_id", compoID.String()),
				zap.Stringer("from", compo.VotingStatus),
				zap.Stringer("to", status),
			)
			return nil, err
		}
		s.log.Warn("forcing voting status change",
			zap.String("compo_id", compoID.String()),
			zap.Stringer("from", compo.VotingStatus),
			zap.Stringer("to", status),
			zap.String("account_id", caller.AccountID),
		)
	}

	now := time.Now().UTC()
	_, err = s.db.NewUpdate().
		Model((*models.Compo)(nil)).
		Set("voting_status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", compoID).
		Exec(ctx)
	if err != nil {
		s.log.Error("failed to set voting status", zap.String("compo_id", compoID.String()), zap.Error(err))
		return nil, fmt.Errorf("compos: set status: %w", err)
	}

	s.log.Info("voting status changed",
		zap.String("compo_id", compoID.String()),
		zap.Stringer("from", compo.VotingStatus),
		zap.Stringer("to", status),
	)
	compo.VotingStatus = status
	compo.UpdatedAt = now
	return compo, nil
}
