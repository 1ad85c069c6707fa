package crs

import (
	"context"
	"encoding/json"
	"math"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

// RecordScore appends one score entry and recomputes the student's CRS.
func (s *Service) RecordScore(ctx context.Context, in NewScore) (ledger.ScoreEntry, error) {
	if err := validate.Struct(in); err != nil {
		return ledger.ScoreEntry{}, validationError(err)
	}
	sp, err := s.store.GetSubParameter(ctx, in.SubParameterID)
	if err != nil {
		return ledger.ScoreEntry{}, err
	}
	st, err := s.store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return ledger.ScoreEntry{}, err
	}
	if err := checkScore(in.ObtainedScore, sp); err != nil {
		return ledger.ScoreEntry{}, err
	}
	if len(in.Data) > 0 && !json.Valid(in.Data) {
		return ledger.ScoreEntry{}, invalid("data must be valid JSON")
	}

	e := ledger.ScoreEntry{
		ID:             newID(),
		StudentID:      st.ID,
		SubParameterID: sp.ID,
		ObtainedScore:  in.ObtainedScore,
		Data:           in.Data,
		RecordedBy:     in.RecordedBy,
		CreatedAt:      s.now(),
	}
	if err := s.store.InsertScore(ctx, e); err != nil {
		return ledger.ScoreEntry{}, &PersistenceError{Op: "insert score", Err: err}
	}
	s.record(ctx, audit.Entry{
		Action:     audit.ActionScoreAdd,
		EntityType: "score",
		EntityID:   e.ID,
		Actor:      in.RecordedBy,
		Details: map[string]any{
			"student_id":       st.ID,
			"sub_parameter_id": sp.ID,
			"obtained_score":   in.ObtainedScore,
		},
	})

	if _, err := s.Recalculate(ctx, st.ID); err != nil {
		return e, err
	}
	return e, nil
}

func checkScore(v float64, sp rubric.SubParameter) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("Invalid score value")
	}
	if v > sp.MaxScore {
		return invalid("Score cannot exceed max score of %v", sp.MaxScore)
	}
	return nil
}
