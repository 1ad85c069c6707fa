// Package crs runs the Composite Readiness Score engine against a Store:
// live recomputation with its change trail, reports, history replay and
// the write paths that trigger recomputation.
package crs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/grading"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/lock"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
	"github.com/mind-engage/mindengage-crs/internal/telemetry"
)

type Options struct {
	Lock     lock.Keyed     // default: in-process KeyedMutex
	Audit    audit.Recorder // nil disables the audit trail
	Metrics  *telemetry.Instruments
	Location *time.Location // history day boundaries; nil means UTC
	Now      func() time.Time
}

type Service struct {
	store   Store
	lock    lock.Keyed
	audit   audit.Recorder
	metrics *telemetry.Instruments
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:   store,
		lock:    opts.Lock,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		loc:     opts.Location,
		now:     opts.Now,
		logger:  slog.Default().With("component", "crs"),
	}
	if s.lock == nil {
		s.lock = lock.NewKeyedMutex()
	}
	if s.metrics == nil {
		s.metrics = telemetry.Noop()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Recalculate recomputes the student's CRS from the full ledger and, if it
// moved, updates the cache and appends a history entry in one transaction.
// Calls for the same student are serialized.
func (s *Service) Recalculate(ctx context.Context, studentID string) (Outcome, error) {
	ctx, span := s.metrics.Tracer.Start(ctx, "crs.Recalculate",
		trace.WithAttributes(attribute.String("student.id", studentID)))
	defer span.End()
	start := time.Now()

	out, err := s.recalculate(ctx, studentID)
	s.metrics.Duration.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		s.metrics.Failures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}
	s.metrics.Recalculations.Add(ctx, 1)
	return out, nil
}

func (s *Service) recalculate(ctx context.Context, studentID string) (Outcome, error) {
	unlock, err := s.lock.Lock(ctx, studentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lock student %s: %w", studentID, err)
	}
	defer unlock()

	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Outcome{}, err
	}
	r, scores, violations, err := s.load(ctx, studentID)
	if err != nil {
		return Outcome{}, err
	}

	res := grading.Compute(r, scores, violations, time.Time{})
	out := Outcome{StudentID: studentID, PreviousCRS: st.CurrentCRS, Result: res}

	change := grading.Reconcile(studentID, st.CurrentCRS, res, s.now())
	if change == nil {
		return out, nil
	}
	change.ID = newID()
	if err := s.store.ApplyChange(ctx, *change); err != nil {
		return Outcome{}, &PersistenceError{Op: "apply crs change", Err: err}
	}
	out.Change = change
	s.metrics.Changes.Add(ctx, 1)
	s.record(ctx, audit.Entry{
		Action:     audit.ActionCRSRecalculate,
		EntityType: "student",
		EntityID:   studentID,
		Details: map[string]any{
			"history_id":     change.ID,
			"previous_score": change.PreviousScore,
			"new_score":      change.NewScore,
			"change_amount":  change.ChangeAmount,
			"reason":         change.Reason,
		},
	})
	s.logger.InfoContext(ctx, "crs changed",
		"student", studentID, "previous", change.PreviousScore, "new", change.NewScore, "reason", change.Reason)
	return out, nil
}

func (s *Service) load(ctx context.Context, studentID string) (rubric.Rubric, []ledger.ScoreEntry, []ledger.ViolationRecord, error) {
	r, err := s.store.Rubric(ctx)
	if err != nil {
		return rubric.Rubric{}, nil, nil, fmt.Errorf("load rubric: %w", err)
	}
	scores, err := s.store.ScoresFor(ctx, studentID)
	if err != nil {
		return rubric.Rubric{}, nil, nil, fmt.Errorf("load scores: %w", err)
	}
	violations, err := s.store.ViolationsFor(ctx, studentID)
	if err != nil {
		return rubric.Rubric{}, nil, nil, fmt.Errorf("load violations: %w", err)
	}
	return r, scores, violations, nil
}

// Report computes the CRS now without writing anything. PreviousCRS is
// the cached value, which may lag the computed one.
func (s *Service) Report(ctx context.Context, studentID string) (Report, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return Report{}, err
	}
	r, scores, violations, err := s.load(ctx, studentID)
	if err != nil {
		return Report{}, err
	}
	res := grading.Compute(r, scores, violations, time.Time{})
	if violations == nil {
		violations = []ledger.ViolationRecord{}
	}
	return Report{
		Student:         st,
		FinalCRS:        res.FinalCRS,
		PreviousCRS:     st.CurrentCRS,
		StarRating:      grading.StarRating(res.FinalCRS),
		Parameters:      res.Parameters,
		TotalDeductions: res.TotalDeductions,
		Violations:      violations,
	}, nil
}

// History replays the ledger day by day. A nil opts.Location uses the
// service's zone.
func (s *Service) History(ctx context.Context, studentID string, opts grading.HistoryOptions) ([]grading.Point, error) {
	if _, err := s.store.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	r, scores, violations, err := s.load(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = s.loc
	}
	return grading.Reconstruct(r, scores, violations, s.now(), opts), nil
}

// Changes returns the persisted CRS change trail, oldest first.
func (s *Service) Changes(ctx context.Context, studentID string) ([]ledger.CRSHistoryEntry, error) {
	if _, err := s.store.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}
	out, err := s.store.HistoryFor(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ledger.CRSHistoryEntry{}
	}
	return out, nil
}

// RecalculateAll recomputes every student with at most workers in flight
// and returns how many caches changed.
func (s *Service) RecalculateAll(ctx context.Context, workers int) (int, error) {
	ids, err := s.store.ListStudentIDs(ctx)
	if err != nil {
		return 0, err
	}
	if workers <= 0 {
		workers = 4
	}

	changed := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			out, err := s.Recalculate(gctx, id)
			if err != nil {
				return fmt.Errorf("recalculate %s: %w", id, err)
			}
			changed[i] = out.Change != nil
			return nil
		})
	}
	err = g.Wait()

	n := 0
	for _, c := range changed {
		if c {
			n++
		}
	}
	s.logger.InfoContext(ctx, "recalculated all students", "students", len(ids), "changed", n)
	return n, err
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "action", e.Action, "entity", e.EntityID, "err", err)
	}
}
