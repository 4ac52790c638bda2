package generic

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is the inclusive [Start, End] range a leave request covers.
type Period struct {
	Start TimePoint `json:"start"`
	End   TimePoint `json:"end"`
}

// NewPeriod builds a period, rejecting an end before the start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, &InvalidInputError{Field: "end_date", Reason: ErrInvalidPeriod.Error()}
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
