package grading

import (
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

// Reduction is the outcome of reducing one (student, sub-parameter) pair.
type Reduction struct {
	Obtained   float64            // clamped to [floor, max]
	Efficiency float64            // obtained/max in [0,1]; 0 when max <= 0
	Count      int                // entries considered
	Last       *ledger.ScoreEntry // greatest createdAt, ties by id
}

// reducer turns a non-empty entry set into a raw obtained value.
type reducer func(entries []ledger.ScoreEntry) float64

// accumulative routes by calculation mode, like a grader routes by
// question type. Unknown modes fall back to LATEST.
var accumulative = map[rubric.CalculationMode]reducer{
	rubric.CalcLatest:  reduceLatest,
	rubric.CalcSum:     reduceSum,
	rubric.CalcAverage: reduceAverage,
	rubric.CalcMax:     reduceMax,
}

// Reduce applies the sub-parameter's policy to its entries. The caller
// passes only entries belonging to sp (already cutoff-filtered).
func Reduce(sp rubric.SubParameter, entries []ledger.ScoreEntry) Reduction {
	res := Reduction{Count: len(entries), Last: latest(entries)}

	var obtained float64
	switch sp.Mode() {
	case rubric.ModeDeduction:
		obtained = sp.MaxScore - deductionPenalty(sp, entries)
	default:
		if len(entries) > 0 {
			fn, ok := accumulative[sp.Calculation()]
			if !ok {
				fn = reduceLatest
			}
			obtained = fn(entries)
		}
	}

	res.Obtained = clampObtained(obtained, sp.Floor(), sp.MaxScore)
	res.Efficiency = efficiency(res.Obtained, sp.MaxScore)
	return res
}

// deductionPenalty is zero without entries, even when a deduction value
// is configured: no recorded event means no deduction.
func deductionPenalty(sp rubric.SubParameter, entries []ledger.ScoreEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	if sp.DeductionValue != nil && *sp.DeductionValue > 0 {
		return float64(len(entries)) * *sp.DeductionValue
	}
	return reduceSum(entries)
}

func clampObtained(v, floor, max float64) float64 {
	if v < floor {
		v = floor
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}

func efficiency(obtained, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp(obtained/max, 0, 1)
}

// --- reducers ---

func reduceLatest(entries []ledger.ScoreEntry) float64 {
	return latest(entries).ObtainedScore
}

func reduceSum(entries []ledger.ScoreEntry) float64 {
	total := 0.0
	for _, e := range entries {
		total += e.ObtainedScore
	}
	return total
}

func reduceAverage(entries []ledger.ScoreEntry) float64 {
	return reduceSum(entries) / float64(len(entries))
}

func reduceMax(entries []ledger.ScoreEntry) float64 {
	best := entries[0].ObtainedScore
	for _, e := range entries[1:] {
		if e.ObtainedScore > best {
			best = e.ObtainedScore
		}
	}
	return best
}

// latest picks the entry with the greatest createdAt; identical
// timestamps resolve to the greatest id so the choice never depends on
// input order.
func latest(entries []ledger.ScoreEntry) *ledger.ScoreEntry {
	if len(entries) == 0 {
		return nil
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.CreatedAt.After(best.CreatedAt) || (e.CreatedAt.Equal(best.CreatedAt) && e.ID > best.ID) {
			best = e
		}
	}
	return &best
}
