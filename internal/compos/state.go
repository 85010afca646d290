package compos

import (
	"fmt"

	"github.com/bananalabs-oss/pms/internal/models"
	"github.com/google/uuid"
)

// CanTransition reports whether a compo may move from one voting phase to
// another. Phases only move forward (UPCOMING, LIVE, OPEN, CLOSED) though a
// phase may be skipped. Setting the current phase again is allowed.
func CanTransition(from, to models.VotingStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown voting status %q", models.ErrInvalidInput, string(to))
	}
	if !from.Valid() {
		return nil
	}
	if to.Rank() < from.Rank() {
		return fmt.Errorf("%w: voting cannot go from %s back to %s", models.ErrInvalidInput, from, to)
	}
	return nil
}

// EligibleEntries returns the entries of a compo that can be voted on now.
// entries must already be in presentation order.
//
// While LIVE, CurrentEntryPos is the number of entries shown so far, so the
// entry at that index is not yet votable: position 3 opens entries 0, 1 and 2.
func EligibleEntries(compo *models.Compo, entries []models.Entry) []models.Entry {
	switch compo.VotingStatus {
	case models.VotingLive:
		n := compo.CurrentEntryPos
		if n < 0 {
			n = 0
		}
		if n > len(entries) {
			n = len(entries)
		}
		return entries[:n:n]
	case models.VotingOpen:
		return entries
	default:
		return []models.Entry{}
	}
}

// IsEligible reports whether entryID is among the currently votable entries.
func IsEligible(compo *models.Compo, entries []models.Entry, entryID uuid.UUID) bool {
	for _, e := range EligibleEntries(compo, entries) {
		if e.ID == entryID {
			return true
		}
	}
	return false
}
