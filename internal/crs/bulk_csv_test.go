package crs

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBulkCSV(t *testing.T) {
	in := "Register Number,Sub Parameter Name,Obtained Score,Remarks\n" +
		"R-001,GPA,78.5,good\n" +
		"\n" +
		"R-002, Punctuality ,abc,\n"

	rows, err := ParseBulkCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, BulkRow{
		RegisterNumber:   "R-001",
		SubParameterName: "GPA",
		ObtainedScore:    "78.5",
		Data:             map[string]any{"Remarks": "good"},
	}, rows[0])
	assert.Equal(t, "Punctuality", rows[1].SubParameterName)
	assert.Equal(t, RawScore("abc"), rows[1].ObtainedScore)
	assert.Nil(t, rows[1].Data)
}

func TestParseBulkCSV_IDColumns(t *testing.T) {
	in := "student_id,sub_parameter_id,obtained_score\ns1,gpa,90\n"
	rows, err := ParseBulkCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []BulkRow{{StudentID: "s1", SubParameterID: "gpa", ObtainedScore: "90"}}, rows)
}

func TestParseBulkCSV_BadHeader(t *testing.T) {
	_, err := ParseBulkCSV(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.True(t, IsValidation(err))

	_, err = ParseBulkCSV(strings.NewReader(""))
	assert.True(t, IsValidation(err))
}

func TestBulkRowJSON(t *testing.T) {
	var rows []BulkRow
	require.NoError(t, json.Unmarshal([]byte(`[
		{"student_id":"s1","sub_parameter_id":"gpa","obtained_score":80},
		{"register_number":"R-2","sub_parameter_name":"GPA","obtained_score":"7.5"},
		{"student_id":"s1","sub_parameter_id":"gpa","obtained_score":null}
	]`), &rows))
	require.Len(t, rows, 3)

	v, err := rows[0].ObtainedScore.Float()
	require.NoError(t, err)
	assert.Equal(t, 80.0, v)
	v, err = rows[1].ObtainedScore.Float()
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)
	assert.Equal(t, RawScore(""), rows[2].ObtainedScore)

	out, err := json.Marshal(BulkError{Row: 1, Item: rows[0], Error: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"row":1,"item":{"student_id":"s1","sub_parameter_id":"gpa","obtained_score":80},"error":"x"}`, string(out))

	out, err = json.Marshal(RawScore("abc"))
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(out))
}

func TestBulkRowJSON_BadElementStaysInItsRow(t *testing.T) {
	var rows []BulkRow
	require.NoError(t, json.Unmarshal([]byte(`[
		{"register_number":1001,"sub_parameter_id":"gpa","obtained_score":70},
		{"student_id":"s1","sub_parameter_id":"gpa","obtained_score":1,"data":"not an object"},
		{"student_id":true,"sub_parameter_id":"gpa","obtained_score":1},
		7
	]`), &rows))
	require.Len(t, rows, 4)

	assert.Equal(t, "1001", rows[0].RegisterNumber)
	assert.NoError(t, rows[0].decodeErr)

	assert.Equal(t, "s1", rows[1].StudentID)
	for i, r := range rows[1:] {
		assert.True(t, IsValidation(r.decodeErr), "row %d", i+2)
	}
}

func TestNewIDSortsInCreationOrder(t *testing.T) {
	prev := newID()
	for i := 0; i < 1000; i++ {
		id := newID()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "registernumber", normalizeHeader("\ufeffRegister_Number"))
	assert.Equal(t, "obtainedscore", normalizeHeader("Obtained-Score "))
	assert.Equal(t, "gpa final", normalizeName("  G.P.A   Final "))

	assert.Equal(t, 3, editDistance("kitten", "sitting"))
	assert.Equal(t, 0, editDistance("", ""))
	assert.Equal(t, 4, editDistance("", "abcd"))

	names := []string{"GPA", "Attendance", "Punctuality"}
	assert.Equal(t, "Attendance", closestName("attendence", names))
	assert.Equal(t, "", closestName("Sports", names))
}
