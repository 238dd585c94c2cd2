package analysis

import "context"

// Annotator produces a natural-language interpretation of a deviation
// report. It is an external collaborator: implementations must bound their
// own timeouts, and any failure is treated by the engine as "annotation
// unavailable", never as "analysis invalid".
type Annotator interface {
	Annotate(ctx context.Context, meter Meter, report DeviationReport) (Annotation, error)
}

// StubAnnotation is the degraded report used when the annotator is
// unreachable. The engine's classification is preserved unchanged.
func StubAnnotation(state OverallState) Annotation {
	return Annotation{
		Summary:        "The automated interpretation service is currently unavailable.",
		Habits:         "N/A",
		Anomalies:      []AnomalyPeriod{},
		Recommendation: "Review the deviation points manually and retry the analysis later.",
		State:          state,
	}
}
