package crs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/grading"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// clock advances one second per read so every entry has its own timestamp.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	svc   *Service
	store Store
	audit *audit.MemoryRecorder
	clock *clock
}

func ptr(v float64) *float64 { return &v }

// seedStore builds: Academics (50) -> GPA (100, max 100, LATEST)
// and Conduct (20) -> Punctuality (100, max 10, DEDUCTION by 2).
// A student with an empty ledger therefore scores 20.
func seedStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutParameter(ctx, rubric.Parameter{
		ID: "academics", Name: "Academics", Weightage: 50,
		SubParameters: []rubric.SubParameter{
			{ID: "gpa", Name: "GPA", Weightage: 100, MaxScore: 100, CalculationMode: rubric.CalcLatest},
		},
	}))
	require.NoError(t, store.PutParameter(ctx, rubric.Parameter{
		ID: "conduct", Name: "Conduct", Weightage: 20,
		SubParameters: []rubric.SubParameter{
			{ID: "punctuality", Name: "Punctuality", Weightage: 100, MaxScore: 10,
				ScoringMode: rubric.ModeDeduction, DeductionValue: ptr(2)},
		},
	}))
	require.NoError(t, store.PutViolationType(ctx, rubric.ViolationType{ID: "late", Name: "Late submission", Penalty: 10, Severity: "minor"}))
	require.NoError(t, store.PutStudent(ctx, Student{ID: "s1", RegisterNumber: "R-001", Name: "Ada", CreatedAt: t0}))
	require.NoError(t, store.PutStudent(ctx, Student{ID: "s2", RegisterNumber: "R-002", Name: "Grace", CreatedAt: t0}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewInMemoryStore()
	seedStore(t, store)
	f := &fixture{store: store, audit: &audit.MemoryRecorder{}, clock: &clock{now: t0}}
	f.svc = NewService(store, Options{Audit: f.audit, Now: f.clock.Now})
	return f
}

func TestRecordScore_UpdatesCacheAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 80, RecordedBy: "teacher-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "teacher-1", e.RecordedBy)

	st, err := f.store.GetStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, st.CurrentCRS)

	changes, err := f.svc.Changes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 0.0, changes[0].PreviousScore)
	assert.Equal(t, 60.0, changes[0].NewScore)
	assert.Equal(t, 60.0, changes[0].ChangeAmount)
	assert.Equal(t, ledger.ReasonImprovement, changes[0].Reason)

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionScoreAdd, entries[0].Action)
	assert.Equal(t, "teacher-1", entries[0].Actor)
	assert.Equal(t, audit.ActionCRSRecalculate, entries[1].Action)
	assert.Equal(t, "s1", entries[1].EntityID)
	assert.Equal(t, changes[0].ID, entries[1].Details["history_id"])
	assert.Equal(t, 60.0, entries[1].Details["new_score"])
}

func TestRecalculate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 80})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := f.svc.Recalculate(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, out.Change)
		assert.Equal(t, 60.0, out.Result.FinalCRS)
		assert.Equal(t, 60.0, out.PreviousCRS)
	}
	changes, err := f.svc.Changes(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestRecalculate_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Recalculate(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
}

func TestRecordScore_ExceedsMax(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 120})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.EqualError(t, err, "Score cannot exceed max score of 100")

	scores, err := f.store.ScoresFor(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestRecordScore_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "nope", ObtainedScore: 1})
	assert.True(t, IsNotFound(err))

	_, err = f.svc.RecordScore(ctx, NewScore{StudentID: "ghost", SubParameterID: "gpa", ObtainedScore: 1})
	assert.True(t, IsNotFound(err))

	_, err = f.svc.RecordScore(ctx, NewScore{SubParameterID: "gpa", ObtainedScore: 1})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "student_id is required")

	_, err = f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 1, Data: []byte("{not json")})
	assert.True(t, IsValidation(err))
}

func TestRecordViolation_DeductsPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 80})
	require.NoError(t, err)

	v, err := f.svc.RecordViolation(ctx, NewViolation{StudentID: "s1", ViolationTypeID: "late", Comment: "3 days", RecordedBy: "dean"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Penalty)

	changes, err := f.svc.Changes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 60.0, changes[1].PreviousScore)
	assert.Equal(t, 50.0, changes[1].NewScore)
	assert.Equal(t, -10.0, changes[1].ChangeAmount)
	assert.Equal(t, ledger.ReasonDeduction, changes[1].Reason)

	rep, err := f.svc.Report(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "Late submission", rep.Violations[0].ViolationName)
	assert.Equal(t, 10.0, rep.TotalDeductions)

	_, err = f.svc.RecordViolation(ctx, NewViolation{StudentID: "s1", ViolationTypeID: "unknown"})
	assert.True(t, IsNotFound(err))

	actions := []string{}
	for _, e := range f.audit.Entries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		audit.ActionScoreAdd, audit.ActionCRSRecalculate,
		audit.ActionViolationRecord, audit.ActionCRSRecalculate,
	}, actions)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 80})
	require.NoError(t, err)

	rep, err := f.svc.Report(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, rep.FinalCRS)
	assert.Equal(t, 60.0, rep.PreviousCRS)
	assert.Equal(t, 3, rep.StarRating)
	assert.Empty(t, rep.Violations)
	require.Len(t, rep.Parameters, 2)

	gpa := rep.Parameters[0].SubParameters[0]
	assert.Equal(t, "LATEST", gpa.Mode)
	assert.Equal(t, 80.0, gpa.Score)
	require.NotNil(t, gpa.LastEntryDate)

	punct := rep.Parameters[1].SubParameters[0]
	assert.Equal(t, "DEDUCTION", punct.Mode)
	assert.Equal(t, 10.0, punct.Score)
	assert.Nil(t, punct.LastEntryDate)

	// a write that bypassed recomputation shows up in the report but not the cache
	require.NoError(t, f.store.InsertScore(ctx, ledger.ScoreEntry{
		ID: "direct", StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 100, CreatedAt: f.clock.Now(),
	}))
	rep, err = f.svc.Report(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, rep.FinalCRS)
	assert.Equal(t, 60.0, rep.PreviousCRS)
}

func TestHistory_TodayMatchesReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.Set(t0.AddDate(0, 0, -3))
	_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 40})
	require.NoError(t, err)
	f.clock.Set(t0.AddDate(0, 0, -1))
	_, err = f.svc.RecordViolation(ctx, NewViolation{StudentID: "s1", ViolationTypeID: "late"})
	require.NoError(t, err)
	f.clock.Set(t0)

	pts, err := f.svc.History(ctx, "s1", grading.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, grading.Point{Date: "2026-02-27", CRS: 40}, pts[0])
	assert.Equal(t, grading.Point{Date: "2026-03-01", CRS: 30}, pts[1])

	rep, err := f.svc.Report(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", pts[2].Date)
	assert.Equal(t, rep.FinalCRS, pts[2].CRS)

	dense, err := f.svc.History(ctx, "s1", grading.HistoryOptions{Dense: true})
	require.NoError(t, err)
	assert.Len(t, dense, 4)

	_, err = f.svc.History(ctx, "ghost", grading.HistoryOptions{})
	assert.True(t, IsNotFound(err))
}

func TestBulkIngest_PartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := []BulkRow{
		{RegisterNumber: "R-001", SubParameterName: "GPA", ObtainedScore: "70"},
		{StudentID: "s2", SubParameterID: "gpa", ObtainedScore: "90"},
		{RegisterNumber: "R-404", SubParameterID: "gpa", ObtainedScore: "50"},
		{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "85"},
		{RegisterNumber: "R-002", SubParameterName: "punctuality", ObtainedScore: "1"},
	}
	res, err := f.svc.BulkIngest(ctx, rows, "registrar")
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, "R-404", res.Errors[0].Item.RegisterNumber)
	assert.Contains(t, res.Errors[0].Error, "not found")

	s2Scores, err := f.store.ScoresFor(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, s2Scores, 2, "rows after the failure are still processed")

	// one recomputation per student, not per row
	c1, err := f.svc.Changes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, c1, 1)
	assert.Equal(t, 62.5, c1[0].NewScore)

	c2, err := f.svc.Changes(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, c2, 1)
	assert.Equal(t, 61.0, c2[0].NewScore)

	byAction := map[string][]audit.Entry{}
	for _, e := range f.audit.Entries() {
		byAction[e.Action] = append(byAction[e.Action], e)
	}
	require.Len(t, byAction[audit.ActionScoreAddBulk], 1)
	assert.Equal(t, 4, byAction[audit.ActionScoreAddBulk][0].Details["success"])
	assert.Len(t, byAction[audit.ActionCRSRecalculate], 2)

	// one SCORE_ADD per stored row, keyed by the score id
	perRow := byAction[audit.ActionScoreAdd]
	require.Len(t, perRow, 4)
	s1Scores, err := f.store.ScoresFor(ctx, "s1")
	require.NoError(t, err)
	stored := map[string]bool{}
	for _, e := range append(s1Scores, s2Scores...) {
		stored[e.ID] = true
	}
	for _, e := range perRow {
		assert.Equal(t, "score", e.EntityType)
		assert.True(t, stored[e.EntityID], "audit entry %s has no score", e.EntityID)
		assert.Equal(t, "registrar", e.Actor)
	}
	assert.Equal(t, "s1", perRow[0].Details["student_id"])
	assert.Equal(t, "gpa", perRow[0].Details["sub_parameter_id"])
	assert.Equal(t, 70.0, perRow[0].Details["obtained_score"])
	assert.Equal(t, byAction[audit.ActionScoreAddBulk][0].EntityID, perRow[0].Details["batch_id"])
}

func TestBulkIngest_JSONRowsDecodeIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.PutStudent(ctx, Student{ID: "s3", RegisterNumber: "1001", Name: "Edsger", CreatedAt: t0}))

	var rows []BulkRow
	require.NoError(t, json.Unmarshal([]byte(`[
		{"register_number":1001,"sub_parameter_id":"gpa","obtained_score":70},
		{"student_id":"s1","sub_parameter_id":"gpa","obtained_score":1,"data":[1,2]},
		{"student_id":"s1","sub_parameter_id":"gpa","obtained_score":80}
	]`), &rows))

	res, err := f.svc.BulkIngest(ctx, rows, "registrar")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Contains(t, res.Errors[0].Error, "malformed row")

	s3, err := f.store.GetStudent(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, 55.0, s3.CurrentCRS)

	s1, err := f.store.GetStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, s1.CurrentCRS)
}

func TestBulkIngest_LatestFollowsRowOrderWithinOneInstant(t *testing.T) {
	store := NewInMemoryStore()
	seedStore(t, store)
	svc := NewService(store, Options{Now: func() time.Time { return t0 }})
	ctx := context.Background()

	for run := 0; run < 20; run++ {
		_, err := svc.BulkIngest(ctx, []BulkRow{
			{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "30"},
			{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "90"},
		}, "registrar")
		require.NoError(t, err)

		rep, err := svc.Report(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, 65.0, rep.FinalCRS, "run %d", run)
	}
}

func TestBulkIngest_RowErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := []BulkRow{
		{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "abc"},
		{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "150"},
		{SubParameterID: "gpa", ObtainedScore: "10"},
		{StudentID: "s1", SubParameterName: "GAP", ObtainedScore: "10"},
		{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "NaN"},
	}
	res, err := f.svc.BulkIngest(ctx, rows, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 5, res.FailedCount)
	require.Len(t, res.Errors, 5)
	assert.Equal(t, "Invalid score value", res.Errors[0].Error)
	assert.Equal(t, "Score 150 exceeds max 100", res.Errors[1].Error)
	assert.Contains(t, res.Errors[2].Error, "student_id or register_number is required")
	assert.Contains(t, res.Errors[3].Error, `did you mean "GPA"`)
	assert.Equal(t, "Invalid score value", res.Errors[4].Error)

	changes, err := f.svc.Changes(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRecalculateAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, f.store.InsertScore(ctx, ledger.ScoreEntry{
			ID: "e-" + id, StudentID: id, SubParameterID: "gpa", ObtainedScore: 50, CreatedAt: t0,
		}))
	}

	n, err := f.svc.RecalculateAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.RecalculateAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecalculate_ConcurrentWritesKeepChainConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(score float64) {
			defer wg.Done()
			_, err := f.svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: score})
			assert.NoError(t, err)
		}(float64(10 + i*5))
	}
	wg.Wait()

	changes, err := f.svc.Changes(ctx, "s1")
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	assert.Equal(t, 0.0, changes[0].PreviousScore)
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, changes[i-1].NewScore, changes[i].PreviousScore, "entry %d", i)
		assert.Equal(t, grading.Round2(changes[i].NewScore-changes[i].PreviousScore), changes[i].ChangeAmount)
	}

	st, err := f.store.GetStudent(ctx, "s1")
	require.NoError(t, err)
	rep, err := f.svc.Report(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rep.FinalCRS, st.CurrentCRS)
	assert.Equal(t, changes[len(changes)-1].NewScore, st.CurrentCRS)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, audit.Entry) error { return errors.New("audit down") }

func TestAuditFailureIsNonFatal(t *testing.T) {
	store := NewInMemoryStore()
	seedStore(t, store)
	svc := NewService(store, Options{Audit: failingRecorder{}})

	_, err := svc.RecordScore(context.Background(), NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 80})
	require.NoError(t, err)
	st, err := store.GetStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 60.0, st.CurrentCRS)
}

type brokenApply struct {
	Store
}

func (brokenApply) ApplyChange(context.Context, ledger.CRSHistoryEntry) error {
	return errors.New("disk full")
}

func TestRecalculate_PersistenceError(t *testing.T) {
	store := NewInMemoryStore()
	seedStore(t, store)
	svc := NewService(brokenApply{store}, Options{})

	_, err := svc.Recalculate(context.Background(), "s1")
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "apply crs change", pe.Op)
	assert.EqualError(t, pe.Unwrap(), "disk full")

	res, err := svc.BulkIngest(context.Background(), []BulkRow{{StudentID: "s2", SubParameterID: "gpa", ObtainedScore: "1"}}, "")
	assert.Equal(t, 1, res.SuccessCount)
	assert.True(t, errors.As(err, &pe))
}
