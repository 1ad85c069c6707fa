// Package ledger holds the append-only records the engine scores:
// raw score entries, violation records and the CRS change trail.
package ledger

import (
	"encoding/json"
	"sort"
	"time"
)

type ScoreEntry struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"student_id"`
	SubParameterID string          `json:"sub_parameter_id"`
	ObtainedScore  float64         `json:"obtained_score"`
	Data           json.RawMessage `json:"data,omitempty"`
	RecordedBy     string          `json:"recorded_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ViolationRecord carries the penalty of its violation type as read at
// load time; penalties are never snapshotted on the record itself.
type ViolationRecord struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	ViolationTypeID string    `json:"violation_type_id"`
	ViolationName   string    `json:"violation_name,omitempty"`
	Penalty         float64   `json:"penalty"`
	Severity        string    `json:"severity,omitempty"`
	Comment         string    `json:"comment,omitempty"`
	RecordedBy      string    `json:"recorded_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

const (
	ReasonImprovement = "improvement"
	ReasonDeduction   = "deduction"
)

type CRSHistoryEntry struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	PreviousScore float64   `json:"previous_score"`
	NewScore      float64   `json:"new_score"`
	ChangeAmount  float64   `json:"change_amount"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScoresAsOf keeps entries created at or before cutoff. A zero cutoff keeps all.
func ScoresAsOf(entries []ScoreEntry, cutoff time.Time) []ScoreEntry {
	if cutoff.IsZero() {
		return entries
	}
	out := make([]ScoreEntry, 0, len(entries))
	for _, e := range entries {
		if !e.CreatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// ViolationsAsOf keeps records created at or before cutoff. A zero cutoff keeps all.
func ViolationsAsOf(records []ViolationRecord, cutoff time.Time) []ViolationRecord {
	if cutoff.IsZero() {
		return records
	}
	out := make([]ViolationRecord, 0, len(records))
	for _, v := range records {
		if !v.CreatedAt.After(cutoff) {
			out = append(out, v)
		}
	}
	return out
}

// BySubParameter groups entries by sub-parameter id.
func BySubParameter(entries []ScoreEntry) map[string][]ScoreEntry {
	m := make(map[string][]ScoreEntry)
	for _, e := range entries {
		m[e.SubParameterID] = append(m[e.SubParameterID], e)
	}
	return m
}

// ActivityDays returns the distinct calendar days, in loc, on which any
// score or violation was recorded, ascending.
func ActivityDays(scores []ScoreEntry, violations []ViolationRecord, loc *time.Location) []time.Time {
	seen := map[time.Time]struct{}{}
	add := func(t time.Time) {
		seen[StartOfDay(t, loc)] = struct{}{}
	}
	for _, s := range scores {
		add(s.CreatedAt)
	}
	for _, v := range violations {
		add(v.CreatedAt)
	}
	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay is the last representable instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
