package crs

import (
	"encoding/json"
	"time"

	"github.com/mind-engage/mindengage-crs/internal/grading"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
)

// Student carries the denormalized CurrentCRS cache. A fresh
// recomputation is always the source of truth.
type Student struct {
	ID             string    `json:"id" yaml:"id"`
	RegisterNumber string    `json:"register_number" yaml:"register_number"`
	Name           string    `json:"name" yaml:"name"`
	CurrentCRS     float64   `json:"current_crs" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

// Outcome is what a live recalculation produced.
type Outcome struct {
	StudentID   string                  `json:"student_id"`
	PreviousCRS float64                 `json:"previous_crs"`
	Result      grading.Result          `json:"result"`
	Change      *ledger.CRSHistoryEntry `json:"change,omitempty"`
}

// Report is the "compute now" view of a student.
type Report struct {
	Student         Student                   `json:"student"`
	FinalCRS        float64                   `json:"final_crs"`
	PreviousCRS     float64                   `json:"previous_crs"`
	StarRating      int                       `json:"star_rating"`
	Parameters      []grading.ParameterReport `json:"parameters"`
	TotalDeductions float64                   `json:"total_deductions"`
	Violations      []ledger.ViolationRecord  `json:"violations"`
}

type NewScore struct {
	StudentID      string          `json:"student_id" validate:"required"`
	SubParameterID string          `json:"sub_parameter_id" validate:"required"`
	ObtainedScore  float64         `json:"obtained_score"`
	Data           json.RawMessage `json:"data,omitempty"`
	RecordedBy     string          `json:"-"`
}

type NewViolation struct {
	StudentID       string `json:"student_id" validate:"required"`
	ViolationTypeID string `json:"violation_type_id" validate:"required"`
	Comment         string `json:"comment,omitempty" validate:"max=1000"`
	RecordedBy      string `json:"-"`
}
