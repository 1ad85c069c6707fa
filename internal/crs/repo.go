package crs

import (
	"context"

	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

// Store is the persistence the service needs. Lookups return errors
// wrapping ErrNotFound for missing rows.
type Store interface {
	// rubric and catalog
	Rubric(ctx context.Context) (rubric.Rubric, error)
	PutParameter(ctx context.Context, p rubric.Parameter) error
	GetSubParameter(ctx context.Context, id string) (rubric.SubParameter, error)
	FindSubParameterByName(ctx context.Context, name string) (rubric.SubParameter, error)
	PutViolationType(ctx context.Context, vt rubric.ViolationType) error
	GetViolationType(ctx context.Context, id string) (rubric.ViolationType, error)

	// students
	PutStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, id string) (Student, error)
	FindStudentByRegisterNumber(ctx context.Context, regNo string) (Student, error)
	ListStudentIDs(ctx context.Context) ([]string, error)

	// ledger
	InsertScore(ctx context.Context, e ledger.ScoreEntry) error
	InsertViolation(ctx context.Context, v ledger.ViolationRecord) error
	ScoresFor(ctx context.Context, studentID string) ([]ledger.ScoreEntry, error)
	// ViolationsFor resolves each record's penalty from its type.
	ViolationsFor(ctx context.Context, studentID string) ([]ledger.ViolationRecord, error)

	// ApplyChange sets the cached CRS and appends h in one transaction.
	ApplyChange(ctx context.Context, h ledger.CRSHistoryEntry) error
	HistoryFor(ctx context.Context, studentID string) ([]ledger.CRSHistoryEntry, error)
}
