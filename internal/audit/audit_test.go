package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRecorder_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(ActionScoreAdd, "score", "sc-1", "teacher-7", `{"obtained_score":88}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewSQLRecorder(db)
	err = r.Record(context.Background(), Entry{
		Action:     ActionScoreAdd,
		EntityType: "score",
		EntityID:   "sc-1",
		Actor:      "teacher-7",
		Details:    map[string]any{"obtained_score": 88},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRecorder_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "action", "entity_type", "entity_id", "actor", "details", "created_at"}).
		AddRow(1, ActionViolationRecord, "student", "s1", "", `{"violation_type_id":"late"}`, int64(1700000000000)).
		AddRow(2, ActionCRSRecalculate, "student", "s1", "", "", int64(1700000001000))
	mock.ExpectQuery("SELECT id, action").WithArgs("student", "s1").WillReturnRows(rows)

	out, err := NewSQLRecorder(db).List(context.Background(), "student", "s1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "late", out[0].Details["violation_type_id"])
	assert.Nil(t, out[1].Details)
	assert.Equal(t, int64(1700000001), out[1].CreatedAt.Unix())
}

func TestMemoryRecorder(t *testing.T) {
	var m MemoryRecorder
	require.NoError(t, m.Record(context.Background(), Entry{Action: ActionScoreAdd}))
	require.NoError(t, m.Record(context.Background(), Entry{Action: ActionScoreAddBulk}))
	got := m.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].Offset)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestMemoryRecorder_List(t *testing.T) {
	ctx := context.Background()
	var m MemoryRecorder
	require.NoError(t, m.Record(ctx, Entry{Action: ActionViolationRecord, EntityType: "student", EntityID: "s1"}))
	require.NoError(t, m.Record(ctx, Entry{Action: ActionScoreAdd, EntityType: "score", EntityID: "sc-1"}))
	require.NoError(t, m.Record(ctx, Entry{Action: ActionCRSRecalculate, EntityType: "student", EntityID: "s1"}))

	trail, err := m.List(ctx, "student", "s1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, []string{ActionViolationRecord, ActionCRSRecalculate}, []string{trail[0].Action, trail[1].Action})

	none, err := m.List(ctx, "student", "s2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

var (
	_ Log = (*SQLRecorder)(nil)
	_ Log = (*MemoryRecorder)(nil)
)
