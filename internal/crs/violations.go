package crs

import (
	"context"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
)

// RecordViolation appends a violation and recomputes the student's CRS.
// The penalty is not stored; it is read from the type at scoring time.
func (s *Service) RecordViolation(ctx context.Context, in NewViolation) (ledger.ViolationRecord, error) {
	if err := validate.Struct(in); err != nil {
		return ledger.ViolationRecord{}, validationError(err)
	}
	vt, err := s.store.GetViolationType(ctx, in.ViolationTypeID)
	if err != nil {
		return ledger.ViolationRecord{}, err
	}
	st, err := s.store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return ledger.ViolationRecord{}, err
	}

	v := ledger.ViolationRecord{
		ID:              newID(),
		StudentID:       st.ID,
		ViolationTypeID: vt.ID,
		ViolationName:   vt.Name,
		Penalty:         vt.Penalty,
		Severity:        vt.Severity,
		Comment:         in.Comment,
		RecordedBy:      in.RecordedBy,
		CreatedAt:       s.now(),
	}
	if err := s.store.InsertViolation(ctx, v); err != nil {
		return ledger.ViolationRecord{}, &PersistenceError{Op: "insert violation", Err: err}
	}
	s.record(ctx, audit.Entry{
		Action:     audit.ActionViolationRecord,
		EntityType: "student",
		EntityID:   st.ID,
		Actor:      in.RecordedBy,
		Details: map[string]any{
			"violation_id":      v.ID,
			"violation_type_id": vt.ID,
			"penalty":           vt.Penalty,
		},
	})

	if _, err := s.Recalculate(ctx, st.ID); err != nil {
		return v, err
	}
	return v, nil
}
