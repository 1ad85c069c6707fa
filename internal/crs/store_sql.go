package crs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

// SQLStore works on both sqlite and postgres; queries use $N placeholders.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func (s *SQLStore) Rubric(ctx context.Context) (rubric.Rubric, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,name,weightage FROM parameters ORDER BY position, id`)
	if err != nil {
		return rubric.Rubric{}, err
	}
	var params []rubric.Parameter
	index := map[string]int{}
	for rows.Next() {
		var p rubric.Parameter
		if err := rows.Scan(&p.ID, &p.Name, &p.Weightage); err != nil {
			rows.Close()
			return rubric.Rubric{}, err
		}
		index[p.ID] = len(params)
		params = append(params, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return rubric.Rubric{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT `+subParameterColumns+` FROM sub_parameters ORDER BY parameter_id, position, id`)
	if err != nil {
		return rubric.Rubric{}, err
	}
	defer rows.Close()
	for rows.Next() {
		sp, err := scanSubParameter(rows)
		if err != nil {
			return rubric.Rubric{}, err
		}
		if i, ok := index[sp.ParameterID]; ok {
			params[i].SubParameters = append(params[i].SubParameters, sp)
		}
	}
	return rubric.Rubric{Parameters: params}, rows.Err()
}

const subParameterColumns = `id,parameter_id,name,weightage,max_score,scoring_mode,calculation_mode,deduction_value,min_score`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubParameter(r rowScanner) (rubric.SubParameter, error) {
	var sp rubric.SubParameter
	var scoring, calc string
	var deduction, minScore sql.NullFloat64
	if err := r.Scan(&sp.ID, &sp.ParameterID, &sp.Name, &sp.Weightage, &sp.MaxScore, &scoring, &calc, &deduction, &minScore); err != nil {
		return rubric.SubParameter{}, err
	}
	sp.ScoringMode = rubric.ScoringMode(scoring)
	sp.CalculationMode = rubric.CalculationMode(calc)
	sp.DeductionValue = floatPtr(deduction)
	sp.MinScore = floatPtr(minScore)
	return sp, nil
}

func (s *SQLStore) PutParameter(ctx context.Context, p rubric.Parameter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO parameters (id,name,weightage,position)
		VALUES ($1,$2,$3,(SELECT COALESCE(MAX(position),-1)+1 FROM parameters))
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, weightage=EXCLUDED.weightage`,
		p.ID, p.Name, p.Weightage); err != nil {
		return err
	}
	for i, sp := range p.SubParameters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sub_parameters
			(id,parameter_id,name,weightage,max_score,scoring_mode,calculation_mode,deduction_value,min_score,position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE SET parameter_id=EXCLUDED.parameter_id, name=EXCLUDED.name,
			  weightage=EXCLUDED.weightage, max_score=EXCLUDED.max_score, scoring_mode=EXCLUDED.scoring_mode,
			  calculation_mode=EXCLUDED.calculation_mode, deduction_value=EXCLUDED.deduction_value,
			  min_score=EXCLUDED.min_score, position=EXCLUDED.position`,
			sp.ID, p.ID, sp.Name, sp.Weightage, sp.MaxScore, string(sp.Mode()), string(sp.Calculation()),
			nullFloat(sp.DeductionValue), nullFloat(sp.MinScore), i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) GetSubParameter(ctx context.Context, id string) (rubric.SubParameter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subParameterColumns+` FROM sub_parameters WHERE id=$1`, id)
	sp, err := scanSubParameter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rubric.SubParameter{}, notFound("sub-parameter", id)
	}
	return sp, err
}

func (s *SQLStore) FindSubParameterByName(ctx context.Context, name string) (rubric.SubParameter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subParameterColumns+` FROM sub_parameters
		WHERE LOWER(name)=LOWER($1) ORDER BY position, id LIMIT 1`, name)
	sp, err := scanSubParameter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rubric.SubParameter{}, notFound("sub-parameter", name)
	}
	return sp, err
}

func (s *SQLStore) PutViolationType(ctx context.Context, vt rubric.ViolationType) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO violation_types (id,name,penalty,severity)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, penalty=EXCLUDED.penalty, severity=EXCLUDED.severity`,
		vt.ID, vt.Name, vt.Penalty, vt.Severity)
	return err
}

func (s *SQLStore) GetViolationType(ctx context.Context, id string) (rubric.ViolationType, error) {
	var vt rubric.ViolationType
	err := s.db.QueryRowContext(ctx, `SELECT id,name,penalty,severity FROM violation_types WHERE id=$1`, id).
		Scan(&vt.ID, &vt.Name, &vt.Penalty, &vt.Severity)
	if errors.Is(err, sql.ErrNoRows) {
		return rubric.ViolationType{}, notFound("violation type", id)
	}
	return vt, err
}

func (s *SQLStore) PutStudent(ctx context.Context, st Student) error {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO students (id,register_number,name,current_crs,created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET register_number=EXCLUDED.register_number, name=EXCLUDED.name`,
		st.ID, st.RegisterNumber, st.Name, st.CurrentCRS, toMillis(st.CreatedAt))
	return err
}

func (s *SQLStore) scanStudent(row *sql.Row, key string) (Student, error) {
	var st Student
	var created int64
	if err := row.Scan(&st.ID, &st.RegisterNumber, &st.Name, &st.CurrentCRS, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, notFound("student", key)
		}
		return Student{}, err
	}
	st.CreatedAt = fromMillis(created)
	return st, nil
}

func (s *SQLStore) GetStudent(ctx context.Context, id string) (Student, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,register_number,name,current_crs,created_at FROM students WHERE id=$1`, id)
	return s.scanStudent(row, id)
}

func (s *SQLStore) FindStudentByRegisterNumber(ctx context.Context, regNo string) (Student, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,register_number,name,current_crs,created_at FROM students WHERE register_number=$1`, regNo)
	return s.scanStudent(row, regNo)
}

func (s *SQLStore) ListStudentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) InsertScore(ctx context.Context, e ledger.ScoreEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scores (id,student_id,sub_parameter_id,obtained_score,data,recorded_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.StudentID, e.SubParameterID, e.ObtainedScore, string(e.Data), e.RecordedBy, toMillis(e.CreatedAt))
	return err
}

func (s *SQLStore) InsertViolation(ctx context.Context, v ledger.ViolationRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO student_violations (id,student_id,violation_type_id,comment,recorded_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		v.ID, v.StudentID, v.ViolationTypeID, v.Comment, v.RecordedBy, toMillis(v.CreatedAt))
	return err
}

func (s *SQLStore) ScoresFor(ctx context.Context, studentID string) ([]ledger.ScoreEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,student_id,sub_parameter_id,obtained_score,data,recorded_by,created_at
		FROM scores WHERE student_id=$1 ORDER BY created_at, id`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.ScoreEntry
	for rows.Next() {
		var e ledger.ScoreEntry
		var data string
		var created int64
		if err := rows.Scan(&e.ID, &e.StudentID, &e.SubParameterID, &e.ObtainedScore, &data, &e.RecordedBy, &created); err != nil {
			return nil, err
		}
		if data != "" {
			e.Data = json.RawMessage(data)
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) ViolationsFor(ctx context.Context, studentID string) ([]ledger.ViolationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sv.id,sv.student_id,sv.violation_type_id,vt.name,vt.penalty,vt.severity,
		  sv.comment,sv.recorded_by,sv.created_at
		FROM student_violations sv JOIN violation_types vt ON vt.id = sv.violation_type_id
		WHERE sv.student_id=$1 ORDER BY sv.created_at DESC, sv.id DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.ViolationRecord
	for rows.Next() {
		var v ledger.ViolationRecord
		var created int64
		if err := rows.Scan(&v.ID, &v.StudentID, &v.ViolationTypeID, &v.ViolationName, &v.Penalty, &v.Severity,
			&v.Comment, &v.RecordedBy, &created); err != nil {
			return nil, err
		}
		v.CreatedAt = fromMillis(created)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) ApplyChange(ctx context.Context, h ledger.CRSHistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE students SET current_crs=$1 WHERE id=$2`, h.NewScore, h.StudentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("student", h.StudentID)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO crs_history (id,student_id,previous_score,new_score,change_amount,reason,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.StudentID, h.PreviousScore, h.NewScore, h.ChangeAmount, h.Reason, toMillis(h.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) HistoryFor(ctx context.Context, studentID string) ([]ledger.CRSHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,student_id,previous_score,new_score,change_amount,reason,created_at
		FROM crs_history WHERE student_id=$1 ORDER BY created_at, id`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.CRSHistoryEntry
	for rows.Next() {
		var h ledger.CRSHistoryEntry
		var created int64
		if err := rows.Scan(&h.ID, &h.StudentID, &h.PreviousScore, &h.NewScore, &h.ChangeAmount, &h.Reason, &created); err != nil {
			return nil, err
		}
		h.CreatedAt = fromMillis(created)
		out = append(out, h)
	}
	return out, rows.Err()
}
