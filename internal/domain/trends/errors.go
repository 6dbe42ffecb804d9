package trends

import "fmt"

// Phase names the step of the trend pipeline that failed.
type Phase string

const (
	PhaseReports    Phase = "reports"
	PhaseCumulative Phase = "cumulative"
)

// TrendFetchError wraps a failure from either fetch phase. No partial trend
// data accompanies it.
type TrendFetchError struct {
	Phase Phase
	Err   error
}

func (e *TrendFetchError) Error() string {
	return fmt.Sprintf("trend fetch failed during %s phase: %v", e.Phase, e.Err)
}

func (e *TrendFetchError) Unwrap() error {
	return e.Err
}
