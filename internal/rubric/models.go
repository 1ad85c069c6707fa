package rubric

type ScoringMode string

const (
	ModeAccumulative ScoringMode = "ACCUMULATIVE"
	ModeDeduction    ScoringMode = "DEDUCTION"
)

type CalculationMode string

const (
	CalcLatest  CalculationMode = "LATEST"
	CalcSum     CalculationMode = "SUM"
	CalcAverage CalculationMode = "AVERAGE"
	CalcMax     CalculationMode = "MAX"
)

// SubParameter is a weighted criterion inside a Parameter.
// CalculationMode only applies to ACCUMULATIVE; DeductionValue and
// MinScore only apply to DEDUCTION.
type SubParameter struct {
	ID              string          `json:"id" yaml:"id" validate:"required"`
	ParameterID     string          `json:"parameter_id" yaml:"-"`
	Name            string          `json:"name" yaml:"name" validate:"required"`
	Weightage       float64         `json:"weightage" yaml:"weightage" validate:"gte=0,lte=100"`
	MaxScore        float64         `json:"max_score" yaml:"max_score" validate:"gt=0"`
	ScoringMode     ScoringMode     `json:"scoring_mode,omitempty" yaml:"scoring_mode" validate:"omitempty,oneof=ACCUMULATIVE DEDUCTION"`
	CalculationMode CalculationMode `json:"calculation_mode,omitempty" yaml:"calculation_mode" validate:"omitempty,oneof=LATEST SUM AVERAGE MAX"`
	DeductionValue  *float64        `json:"deduction_value,omitempty" yaml:"deduction_value" validate:"omitempty,gte=0"`
	MinScore        *float64        `json:"min_score,omitempty" yaml:"min_score" validate:"omitempty,gte=0"`
}

// Mode returns the scoring mode, defaulting to ACCUMULATIVE.
func (s SubParameter) Mode() ScoringMode {
	if s.ScoringMode == "" {
		return ModeAccumulative
	}
	return s.ScoringMode
}

// Calculation returns the calculation mode, defaulting to LATEST.
func (s SubParameter) Calculation() CalculationMode {
	if s.CalculationMode == "" {
		return CalcLatest
	}
	return s.CalculationMode
}

// Floor is the lowest obtained value the sub-parameter can report.
func (s SubParameter) Floor() float64 {
	if s.Mode() == ModeDeduction && s.MinScore != nil && *s.MinScore > 0 {
		return *s.MinScore
	}
	return 0
}

type Parameter struct {
	ID            string         `json:"id" yaml:"id" validate:"required"`
	Name          string         `json:"name" yaml:"name" validate:"required"`
	Weightage     float64        `json:"weightage" yaml:"weightage" validate:"gte=0,lte=100"`
	SubParameters []SubParameter `json:"sub_parameters" yaml:"sub_parameters" validate:"dive"`
}

// Rubric is the full snapshot the engine scores against.
type Rubric struct {
	Parameters []Parameter `json:"parameters" yaml:"parameters" validate:"dive"`
}

// SubParameter finds a sub-parameter anywhere in the rubric.
func (r Rubric) SubParameter(id string) (SubParameter, bool) {
	for _, p := range r.Parameters {
		for _, sp := range p.SubParameters {
			if sp.ID == id {
				return sp, true
			}
		}
	}
	return SubParameter{}, false
}

// ViolationType is a catalog entry; Severity is a label only.
type ViolationType struct {
	ID       string  `json:"id" yaml:"id" validate:"required"`
	Name     string  `json:"name" yaml:"name" validate:"required"`
	Penalty  float64 `json:"penalty" yaml:"penalty" validate:"gt=0"`
	Severity string  `json:"severity,omitempty" yaml:"severity"`
}
