package crs

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/db"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

func TestSQLStore_ApplyChangeCommits(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	h := ledger.CRSHistoryEntry{ID: "h1", StudentID: "s1", PreviousScore: 40, NewScore: 42.5, ChangeAmount: 2.5,
		Reason: ledger.ReasonImprovement, CreatedAt: time.UnixMilli(1700000000123)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE students SET current_crs=$1 WHERE id=$2`)).
		WithArgs(42.5, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO crs_history").
		WithArgs("h1", "s1", 40.0, 42.5, 2.5, ledger.ReasonImprovement, int64(1700000000123)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, NewSQLStore(conn).ApplyChange(context.Background(), h))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ApplyChangeRollsBackOnHistoryFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE students").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO crs_history").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err = NewSQLStore(conn).ApplyChange(context.Background(), ledger.CRSHistoryEntry{ID: "h1", StudentID: "s1", NewScore: 10})
	assert.EqualError(t, err, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ApplyChangeMissingStudent(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE students").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = NewSQLStore(conn).ApplyChange(context.Background(), ledger.CRSHistoryEntry{ID: "h1", StudentID: "ghost"})
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSQLStore(conn)
}

func TestSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	seedStore(t, store)

	r, err := store.Rubric(ctx)
	require.NoError(t, err)
	require.Len(t, r.Parameters, 2)
	assert.Equal(t, "academics", r.Parameters[0].ID)
	punct := r.Parameters[1].SubParameters[0]
	assert.Equal(t, rubric.ModeDeduction, punct.ScoringMode)
	require.NotNil(t, punct.DeductionValue)
	assert.Equal(t, 2.0, *punct.DeductionValue)
	assert.Nil(t, punct.MinScore)
	assert.Equal(t, "conduct", punct.ParameterID)

	sp, err := store.FindSubParameterByName(ctx, "gpa")
	require.NoError(t, err)
	assert.Equal(t, "gpa", sp.ID)
	_, err = store.GetSubParameter(ctx, "missing")
	assert.True(t, IsNotFound(err))

	st, err := store.FindStudentByRegisterNumber(ctx, "R-002")
	require.NoError(t, err)
	assert.Equal(t, "s2", st.ID)
	assert.True(t, st.CreatedAt.Equal(t0))

	ids, err := store.ListStudentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
}

func TestSQLStore_ServiceFlow(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	seedStore(t, store)
	c := &clock{now: t0}
	rec := audit.NewSQLRecorder(store.db)
	svc := NewService(store, Options{Audit: rec, Now: c.Now})

	e, err := svc.RecordScore(ctx, NewScore{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: 80,
		Data: json.RawMessage(`{"term":"fall"}`), RecordedBy: "teacher-1"})
	require.NoError(t, err)

	scores, err := store.ScoresFor(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, e.ID, scores[0].ID)
	assert.JSONEq(t, `{"term":"fall"}`, string(scores[0].Data))
	assert.True(t, scores[0].CreatedAt.Equal(e.CreatedAt))

	_, err = svc.RecordViolation(ctx, NewViolation{StudentID: "s1", ViolationTypeID: "late", Comment: "twice"})
	require.NoError(t, err)

	violations, err := store.ViolationsFor(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, 10.0, violations[0].Penalty)
	assert.Equal(t, "Late submission", violations[0].ViolationName)

	res, err := svc.BulkIngest(ctx, []BulkRow{
		{RegisterNumber: "R-002", SubParameterName: "Punctuality", ObtainedScore: "1", Data: map[string]any{"note": "late gate"}},
		{RegisterNumber: "R-999", SubParameterID: "gpa", ObtainedScore: "1"},
	}, "registrar")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.FailedCount)

	rep, err := svc.Report(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, rep.FinalCRS)
	assert.Equal(t, 50.0, rep.PreviousCRS)

	changes, err := svc.Changes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, []float64{60, 50}, []float64{changes[0].NewScore, changes[1].NewScore})

	s2, err := store.GetStudent(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 16.0, s2.CurrentCRS)

	trail, err := rec.List(ctx, "student", "s1")
	require.NoError(t, err)
	actions := make([]string, len(trail))
	for i, e := range trail {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{audit.ActionCRSRecalculate, audit.ActionViolationRecord, audit.ActionCRSRecalculate}, actions)
	assert.Equal(t, 50.0, trail[2].Details["new_score"])
	assert.Equal(t, "deduction", trail[2].Details["reason"])
}
