package factory_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/yukyu-ledger/factory"
	"github.com/warp/yukyu-ledger/generic"
	"github.com/warp/yukyu-ledger/timeoff"
)

const partTimeJSON = `{
  "id": "part-time-4d",
  "name": "Part-time, 4 days/week",
  "steps": [
    {"offset_months": 6,  "days": 7},
    {"offset_months": 18, "days": 8},
    {"offset_months": 30, "days": 9},
    {"offset_months": 42, "days": 10},
    {"offset_months": 54, "days": 12},
    {"offset_months": 66, "days": 13},
    {"offset_months": 78, "days": 15}
  ]
}`

func TestParseSchedule_AppliesDefaults(t *testing.T) {
	f := factory.NewScheduleFactory()

	schedule, err := f.ParseSchedule(partTimeJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, schedule.ValidityYears)
	assert.Equal(t, 12, schedule.RepeatEveryMonths)
	require.Len(t, schedule.Steps, 7)

	hire := generic.MustParseDate("2020-01-01")
	next, err := schedule.NextEntitlement(hire, hire.AddYears(10))
	require.NoError(t, err)
	assert.Equal(t, "15", next.Days.Value.String(), "capped at the last step")
}

func TestParseSchedule_Rejects(t *testing.T) {
	f := factory.NewScheduleFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"steps": [`},
		{"no steps", `{"id": "empty", "steps": []}`},
		{"descending", `{"steps": [{"offset_months": 18, "days": 11}, {"offset_months": 6, "days": 10}]}`},
		{"negative days", `{"steps": [{"offset_months": 6, "days": -1}]}`},
		{"too many decimals", `{"steps": [{"offset_months": 6, "days": 10.1234}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseSchedule(tt.json)
			assert.Error(t, err)
		})
	}

	_, err := f.ParseSchedule(`{"steps": []}`)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestToJSON_RoundTripsStatutoryTable(t *testing.T) {
	f := factory.NewScheduleFactory()
	statutory := timeoff.StatutorySchedule()

	data, err := json.Marshal(f.ToJSON("statutory", "Statutory", statutory))
	require.NoError(t, err)

	parsed, err := f.ParseSchedule(string(data))
	require.NoError(t, err)

	hire := generic.MustParseDate("2023-01-01")
	for _, asOf := range []string{"2023-03-01", "2024-01-01", "2029-12-31"} {
		want, err := statutory.NextEntitlement(hire, generic.MustParseDate(asOf))
		require.NoError(t, err)
		got, err := parsed.NextEntitlement(hire, generic.MustParseDate(asOf))
		require.NoError(t, err)
		assert.Equal(t, want.GrantDate, got.GrantDate)
		assert.True(t, want.Days.Value.Equal(got.Days.Value))
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte(partTimeJSON), 0o600))

	schedule, err := factory.NewScheduleFactory().LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, schedule.Steps, 7)

	_, err = factory.NewScheduleFactory().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
