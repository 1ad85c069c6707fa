package grading

import (
	"time"

	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

const dateLayout = "2006-01-02"

// Point is one sample of the CRS trend.
type Point struct {
	Date string  `json:"date"`
	CRS  float64 `json:"crs"`
}

type HistoryOptions struct {
	// Location decides calendar-day boundaries; nil means UTC.
	Location *time.Location
	// Dense emits every day from the first activity through today
	// instead of only the days that had activity.
	Dense bool
}

// Reconstruct replays Compute at the end of each day of interest. Nothing
// is stored; the same ledger always yields the same series.
//
// Cost is days × sub-parameters × entries, which is fine for rubric and
// ledger sizes in the tens to hundreds.
func Reconstruct(r rubric.Rubric, scores []ledger.ScoreEntry, violations []ledger.ViolationRecord, now time.Time, opts HistoryOptions) []Point {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	days := historyDays(scores, violations, now, loc, opts.Dense)

	out := make([]Point, 0, len(days))
	for _, d := range days {
		res := Compute(r, scores, violations, ledger.EndOfDay(d, loc))
		out = append(out, Point{Date: d.Format(dateLayout), CRS: res.FinalCRS})
	}
	return out
}

func historyDays(scores []ledger.ScoreEntry, violations []ledger.ViolationRecord, now time.Time, loc *time.Location, dense bool) []time.Time {
	today := ledger.StartOfDay(now, loc)
	days := ledger.ActivityDays(scores, violations, loc)

	if dense && len(days) > 0 && days[0].Before(today) {
		last := today
		if tail := days[len(days)-1]; tail.After(last) {
			last = tail
		}
		filled := make([]time.Time, 0)
		for d := days[0]; !d.After(last); d = d.AddDate(0, 0, 1) {
			filled = append(filled, d)
		}
		return filled
	}

	return insertDay(days, today)
}

// insertDay adds d to the sorted slice if absent.
func insertDay(days []time.Time, d time.Time) []time.Time {
	for i, x := range days {
		if x.Equal(d) {
			return days
		}
		if x.After(d) {
			out := make([]time.Time, 0, len(days)+1)
			out = append(out, days[:i]...)
			out = append(out, d)
			return append(out, days[i:]...)
		}
	}
	return append(days, d)
}
