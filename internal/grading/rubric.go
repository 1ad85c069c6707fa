package grading

import (
	"time"

	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

type SubParameterReport struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Score         float64    `json:"score"`
	MaxScore      float64    `json:"max_score"`
	Percentage    float64    `json:"percentage"`
	LastEntryDate *time.Time `json:"last_entry_date"`
	Mode          string     `json:"mode"`
}

type ParameterReport struct {
	ParameterID   string               `json:"parameter_id"`
	Name          string               `json:"name"`
	Weightage     float64              `json:"weightage"`
	Percentage    float64              `json:"percentage"`
	Contribution  float64              `json:"contribution"`
	SubParameters []SubParameterReport `json:"sub_parameters"`
}

// Result is a pure computation over a rubric and a ledger slice.
type Result struct {
	FinalCRS        float64           `json:"final_crs"`
	TotalCRS        float64           `json:"total_crs"` // before deductions, unrounded
	TotalDeductions float64           `json:"total_deductions"`
	Parameters      []ParameterReport `json:"parameters"`
}

// WeightedEfficiency is one sub-parameter's input to its parameter.
type WeightedEfficiency struct {
	Efficiency float64
	Weightage  float64
}

// Contribution is (Σ eff_i × w_i/100) × parameterWeightage. It is not
// clamped; the composite clamps once.
func Contribution(parameterWeightage float64, subs []WeightedEfficiency) float64 {
	return blend(subs) * parameterWeightage
}

func blend(subs []WeightedEfficiency) float64 {
	total := 0.0
	for _, s := range subs {
		total += s.Efficiency * (s.Weightage / 100)
	}
	return total
}

// Compute is the single scoring function shared by the live path and
// history replay. Entries created after asOf are ignored; a zero asOf
// applies no cutoff.
func Compute(r rubric.Rubric, scores []ledger.ScoreEntry, violations []ledger.ViolationRecord, asOf time.Time) Result {
	scores = ledger.ScoresAsOf(scores, asOf)
	violations = ledger.ViolationsAsOf(violations, asOf)
	bySub := ledger.BySubParameter(scores)

	res := Result{Parameters: make([]ParameterReport, 0, len(r.Parameters))}
	for _, p := range r.Parameters {
		weighted := make([]WeightedEfficiency, 0, len(p.SubParameters))
		details := make([]SubParameterReport, 0, len(p.SubParameters))
		for _, sp := range p.SubParameters {
			red := Reduce(sp, bySub[sp.ID])
			weighted = append(weighted, WeightedEfficiency{Efficiency: red.Efficiency, Weightage: sp.Weightage})
			details = append(details, subReport(sp, red))
		}

		contribution := Contribution(p.Weightage, weighted)
		res.TotalCRS += contribution
		res.Parameters = append(res.Parameters, ParameterReport{
			ParameterID:   p.ID,
			Name:          p.Name,
			Weightage:     p.Weightage,
			Percentage:    round1(blend(weighted) * 100),
			Contribution:  round2(contribution),
			SubParameters: details,
		})
	}

	for _, v := range violations {
		res.TotalDeductions += v.Penalty
	}
	res.FinalCRS = finalScore(res.TotalCRS, res.TotalDeductions)
	return res
}

func finalScore(total, deductions float64) float64 {
	v := round2(total - deductions)
	if v < 0 {
		return 0
	}
	return v
}

func subReport(sp rubric.SubParameter, red Reduction) SubParameterReport {
	out := SubParameterReport{
		ID:         sp.ID,
		Name:       sp.Name,
		Score:      round2(red.Obtained),
		MaxScore:   sp.MaxScore,
		Percentage: round1(red.Efficiency * 100),
		Mode:       string(sp.Calculation()),
	}
	if sp.Mode() == rubric.ModeDeduction {
		out.Mode = string(rubric.ModeDeduction)
	}
	if red.Last != nil {
		at := red.Last.CreatedAt
		out.LastEntryDate = &at
	}
	return out
}
