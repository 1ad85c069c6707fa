package grading

import (
	"time"

	"github.com/mind-engage/mindengage-crs/internal/ledger"
)

// Reconcile compares a fresh result with the cached score. It returns
// nil when nothing changed; otherwise the history entry that must be
// written together with the cache update.
func Reconcile(studentID string, previous float64, res Result, now time.Time) *ledger.CRSHistoryEntry {
	if res.FinalCRS == previous {
		return nil
	}
	change := round2(res.FinalCRS - previous)
	reason := ledger.ReasonDeduction
	if change > 0 {
		reason = ledger.ReasonImprovement
	}
	return &ledger.CRSHistoryEntry{
		StudentID:     studentID,
		PreviousScore: previous,
		NewScore:      res.FinalCRS,
		ChangeAmount:  change,
		Reason:        reason,
		CreatedAt:     now,
	}
}

// StarRating maps a final CRS onto the 0-5 display scale.
func StarRating(crs float64) int {
	switch {
	case crs >= 90:
		return 5
	case crs >= 75:
		return 4
	case crs >= 60:
		return 3
	case crs >= 40:
		return 2
	case crs > 0:
		return 1
	default:
		return 0
	}
}
