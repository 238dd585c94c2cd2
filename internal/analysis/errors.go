package analysis

// Error taxonomy for single-meter analysis. Fleet-wide operations never
// surface these; a failing meter is logged and skipped.
var (
	ErrMeterNotFound = &AnalysisError{"meter not found"}
	ErrNoData        = &AnalysisError{"no readings for target date"}
	ErrNoBaseline    = &AnalysisError{"no historical readings for base year"}
)

// AnalysisError represents a terminal failure of a single-meter analysis.
type AnalysisError struct {
	msg string
}

func (e *AnalysisError) Error() string {
	return e.msg
}
