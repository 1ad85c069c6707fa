package crs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mind-engage/mindengage-crs/internal/audit"
	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RawScore is an obtained score exactly as submitted. JSON numbers and
// strings are both accepted; parsing happens per row so a bad value fails
// only that row.
type RawScore string

func (r *RawScore) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RawScore(s)
		return nil
	}
	*r = RawScore(b)
	return nil
}

// MarshalJSON echoes numeric literals as numbers and anything else as a string.
func (r RawScore) MarshalJSON() ([]byte, error) {
	if r != "" && (r[0] == '-' || (r[0] >= '0' && r[0] <= '9')) && json.Valid([]byte(r)) {
		return []byte(r), nil
	}
	return json.Marshal(string(r))
}

// Float parses the score strictly: no trailing garbage, no NaN or Inf.
func (r RawScore) Float() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(r)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalid("Invalid score value")
	}
	return v, nil
}

// BulkRow references the student by id or register number and the
// sub-parameter by id or name.
type BulkRow struct {
	StudentID        string         `json:"student_id,omitempty" validate:"required_without=RegisterNumber"`
	RegisterNumber   string         `json:"register_number,omitempty" validate:"required_without=StudentID"`
	SubParameterID   string         `json:"sub_parameter_id,omitempty" validate:"required_without=SubParameterName"`
	SubParameterName string         `json:"sub_parameter_name,omitempty" validate:"required_without=SubParameterID"`
	ObtainedScore    RawScore       `json:"obtained_score" validate:"required"`
	Data             map[string]any `json:"data,omitempty"`

	decodeErr error
}

// flexString takes a JSON string or number; spreadsheets export register
// numbers as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// UnmarshalJSON never fails: a malformed row keeps whatever fields decoded
// and is rejected on its own during ingest, so one bad element does not
// sink the whole array.
func (r *BulkRow) UnmarshalJSON(b []byte) error {
	var in struct {
		StudentID        flexString     `json:"student_id"`
		RegisterNumber   flexString     `json:"register_number"`
		SubParameterID   flexString     `json:"sub_parameter_id"`
		SubParameterName flexString     `json:"sub_parameter_name"`
		ObtainedScore    RawScore       `json:"obtained_score"`
		Data             map[string]any `json:"data"`
	}
	err := json.Unmarshal(b, &in)
	*r = BulkRow{
		StudentID:        string(in.StudentID),
		RegisterNumber:   string(in.RegisterNumber),
		SubParameterID:   string(in.SubParameterID),
		SubParameterName: string(in.SubParameterName),
		ObtainedScore:    in.ObtainedScore,
		Data:             in.Data,
	}
	if err != nil {
		r.decodeErr = invalid("malformed row: %v", err)
	}
	return nil
}

type BulkError struct {
	Row   int     `json:"row"` // 1-based
	Item  BulkRow `json:"item"`
	Error string  `json:"error"`
}

type BulkResult struct {
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	Errors       []BulkError `json:"errors"`
}

// BulkIngest records every valid row and then recomputes each touched
// student once, in the order they first appeared. Row failures are
// reported in the result; the error is non-nil only when a recomputation
// fails.
func (s *Service) BulkIngest(ctx context.Context, rows []BulkRow, actor string) (BulkResult, error) {
	res := BulkResult{Errors: []BulkError{}}
	var touched []string
	seen := map[string]bool{}
	batchID := newID()

	for i, row := range rows {
		e, err := s.ingestRow(ctx, row, actor)
		if err != nil {
			res.FailedCount++
			res.Errors = append(res.Errors, BulkError{Row: i + 1, Item: row, Error: err.Error()})
			continue
		}
		res.SuccessCount++
		s.record(ctx, audit.Entry{
			Action:     audit.ActionScoreAdd,
			EntityType: "score",
			EntityID:   e.ID,
			Actor:      actor,
			Details: map[string]any{
				"student_id":       e.StudentID,
				"sub_parameter_id": e.SubParameterID,
				"obtained_score":   e.ObtainedScore,
				"batch_id":         batchID,
				"row":              i + 1,
			},
		})
		if !seen[e.StudentID] {
			seen[e.StudentID] = true
			touched = append(touched, e.StudentID)
		}
	}

	s.metrics.BulkRows.Add(ctx, int64(res.SuccessCount), metric.WithAttributes(attribute.String("outcome", "ok")))
	s.metrics.BulkRows.Add(ctx, int64(res.FailedCount), metric.WithAttributes(attribute.String("outcome", "failed")))
	s.record(ctx, audit.Entry{
		Action:     audit.ActionScoreAddBulk,
		EntityType: "score_batch",
		EntityID:   batchID,
		Actor:      actor,
		Details: map[string]any{
			"rows":     len(rows),
			"success":  res.SuccessCount,
			"failed":   res.FailedCount,
			"students": len(touched),
		},
	})

	var errs []error
	for _, id := range touched {
		if _, err := s.Recalculate(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("recalculate %s: %w", id, err))
		}
	}
	return res, errors.Join(errs...)
}

func (s *Service) ingestRow(ctx context.Context, row BulkRow, actor string) (ledger.ScoreEntry, error) {
	if row.decodeErr != nil {
		return ledger.ScoreEntry{}, row.decodeErr
	}
	if err := validate.Struct(row); err != nil {
		return ledger.ScoreEntry{}, validationError(err)
	}
	score, err := row.ObtainedScore.Float()
	if err != nil {
		return ledger.ScoreEntry{}, err
	}
	st, err := s.resolveStudent(ctx, row)
	if err != nil {
		return ledger.ScoreEntry{}, err
	}
	sp, err := s.resolveSubParameter(ctx, row)
	if err != nil {
		return ledger.ScoreEntry{}, err
	}
	if score > sp.MaxScore {
		return ledger.ScoreEntry{}, invalid("Score %v exceeds max %v", score, sp.MaxScore)
	}

	var data json.RawMessage
	if len(row.Data) > 0 {
		if data, err = json.Marshal(row.Data); err != nil {
			return ledger.ScoreEntry{}, invalid("data: %v", err)
		}
	}
	e := ledger.ScoreEntry{
		ID:             newID(),
		StudentID:      st.ID,
		SubParameterID: sp.ID,
		ObtainedScore:  score,
		Data:           data,
		RecordedBy:     actor,
		CreatedAt:      s.now(),
	}
	if err := s.store.InsertScore(ctx, e); err != nil {
		return ledger.ScoreEntry{}, &PersistenceError{Op: "insert score", Err: err}
	}
	return e, nil
}

func (s *Service) resolveStudent(ctx context.Context, row BulkRow) (Student, error) {
	if row.StudentID != "" {
		return s.store.GetStudent(ctx, strings.TrimSpace(row.StudentID))
	}
	return s.store.FindStudentByRegisterNumber(ctx, strings.TrimSpace(row.RegisterNumber))
}

func (s *Service) resolveSubParameter(ctx context.Context, row BulkRow) (rubric.SubParameter, error) {
	if row.SubParameterID != "" {
		return s.store.GetSubParameter(ctx, strings.TrimSpace(row.SubParameterID))
	}
	name := strings.TrimSpace(row.SubParameterName)
	sp, err := s.store.FindSubParameterByName(ctx, name)
	if err == nil || !IsNotFound(err) {
		return sp, err
	}
	if r, rerr := s.store.Rubric(ctx); rerr == nil {
		var names []string
		for _, p := range r.Parameters {
			for _, sp := range p.SubParameters {
				names = append(names, sp.Name)
			}
		}
		if guess := closestName(name, names); guess != "" {
			return rubric.SubParameter{}, fmt.Errorf("%w (did you mean %q?)", err, guess)
		}
	}
	return rubric.SubParameter{}, err
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return invalid("%v", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "required_without":
			msgs = append(msgs, fmt.Sprintf("%s or %s is required", fe.Field(), snakeCase(fe.Param())))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return &ValidationError{Msg: strings.Join(msgs, "; ")}
}

// snakeCase turns a Go field name such as SubParameterID into sub_parameter_id.
func snakeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) && i > 0 && unicode.IsLower(rs[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
