/*
Package factory provides JSON to Go schedule conversion.

PURPOSE:
  Converts JSON entitlement tables into timeoff.Schedule values. This lets
  HR load a non-statutory table (part-time proportional grants, a company
  table more generous than the statute) without code changes.

JSON SCHEMA:
  {
    "id": "statutory-full-time",
    "name": "Statutory (full-time)",
    "validity_years": 2,
    "repeat_every_months": 12,
    "steps": [
      {"offset_months": 6,  "days": 10},
      {"offset_months": 18, "days": 11},
      ...
      {"offset_months": 78, "days": 20}
    ]
  }

DEFAULTS:
  validity_years       2
  repeat_every_months  12

USAGE:
  f := factory.NewScheduleFactory()
  schedule, err := f.ParseSchedule(jsonString)
  schedule, err := f.LoadFile("config/schedule.json")

SEE ALSO:
  - timeoff/entitlement.go: Schedule type and the statutory table
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/yukyu-ledger/timeoff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of an entitlement table.
type ScheduleJSON struct {
	ID                string     `json:"id,omitempty"`
	Name              string     `json:"name,omitempty"`
	ValidityYears     int        `json:"validity_years,omitempty"`
	RepeatEveryMonths int        `json:"repeat_every_months,omitempty"`
	Steps             []StepJSON `json:"steps"`
}

// StepJSON is one row of the table.
type StepJSON struct {
	OffsetMonths int             `json:"offset_months"`
	Days         decimal.Decimal `json:"days"`
}

// =============================================================================
// SCHEDULE FACTORY
// =============================================================================

// ScheduleFactory converts JSON schedules to Go structs.
type ScheduleFactory struct{}

// NewScheduleFactory creates a new schedule factory.
func NewScheduleFactory() *ScheduleFactory {
	return &ScheduleFactory{}
}

// ParseSchedule parses a JSON string into a validated Schedule.
func (f *ScheduleFactory) ParseSchedule(jsonStr string) (timeoff.Schedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return timeoff.Schedule{}, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// LoadFile reads and parses a schedule file.
func (f *ScheduleFactory) LoadFile(path string) (timeoff.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return timeoff.Schedule{}, fmt.Errorf("reading schedule file: %w", err)
	}
	return f.ParseSchedule(string(data))
}

// FromJSON converts ScheduleJSON to timeoff.Schedule, applying defaults.
func (f *ScheduleFactory) FromJSON(sj ScheduleJSON) (timeoff.Schedule, error) {
	schedule := timeoff.Schedule{
		ValidityYears:     sj.ValidityYears,
		RepeatEveryMonths: sj.RepeatEveryMonths,
	}
	if schedule.ValidityYears == 0 {
		schedule.ValidityYears = 2
	}
	if schedule.RepeatEveryMonths == 0 {
		schedule.RepeatEveryMonths = 12
	}
	for _, st := range sj.Steps {
		schedule.Steps = append(schedule.Steps, timeoff.Step{OffsetMonths: st.OffsetMonths, Days: st.Days})
	}
	if err := schedule.Validate(); err != nil {
		return timeoff.Schedule{}, fmt.Errorf("invalid schedule %q: %w", sj.ID, err)
	}
	return schedule, nil
}

// ToJSON converts a Schedule to ScheduleJSON.
func (f *ScheduleFactory) ToJSON(id, name string, schedule timeoff.Schedule) ScheduleJSON {
	sj := ScheduleJSON{
		ID:                id,
		Name:              name,
		ValidityYears:     schedule.ValidityYears,
		RepeatEveryMonths: schedule.RepeatEveryMonths,
	}
	for _, st := range schedule.Steps {
		sj.Steps = append(sj.Steps, StepJSON{OffsetMonths: st.OffsetMonths, Days: st.Days})
	}
	return sj
}
