package alerting

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/internal/protocol"
	"github.com/jrmarin/energy-server/internal/queue"
)

// AuditLogger logs every completed day analysis. It implements
// analysis.Observer.
type AuditLogger struct{}

// OnAnalysis logs one analysis result
func (AuditLogger) OnAnalysis(ctx context.Context, day *analysis.DayAnalysis) {
	log.Printf("analysis device=%s date=%s state=%s points=%d maxdev=%.1f%%",
		day.DeviceID, day.Date.Format("2006-01-02"), day.Report.State,
		len(day.Report.Points), day.Report.MaxAbsDev)
}

// Alerter watches day analyses and raises or clears alerts on the alerts
// topic. It implements analysis.Observer.
//
// An alert is raised when a day classifies ALERT or CRITICAL and the meter is
// not already alerting for that day; it clears when a later analysis of the
// same meter comes back NORMAL. UNKNOWN days touch nothing.
type Alerter struct {
	states   *StateManager
	producer *queue.Producer
}

// NewAlerter creates a new alerter
func NewAlerter(states *StateManager, producer *queue.Producer) *Alerter {
	return &Alerter{
		states:   states,
		producer: producer,
	}
}

// OnAnalysis evaluates one day analysis against the meter's alert state
func (a *Alerter) OnAnalysis(ctx context.Context, day *analysis.DayAnalysis) {
	if err := a.evaluate(ctx, day); err != nil {
		fmt.Printf("Failed to evaluate alert for %s: %v\n", day.DeviceID, err)
	}
}

func (a *Alerter) evaluate(ctx context.Context, day *analysis.DayAnalysis) error {
	state, err := a.states.GetState(ctx, day.DeviceID)
	if err != nil {
		return err
	}

	now := time.Now()
	date := day.Date.Format("2006-01-02")

	switch day.Report.State {
	case analysis.StateAlert, analysis.StateCritical:
		if state.Status == AlertStateActive && state.Date == date {
			// Already alerting for this day, refresh last seen
			state.LastSeen = now
			return a.states.SetState(ctx, day.DeviceID, state)
		}
		return a.raiseAlert(ctx, day, now)

	case analysis.StateNormal:
		if state.Status == AlertStateActive {
			return a.clearAlert(ctx, day, state)
		}
		return nil

	default:
		// UNKNOWN: no baseline to judge against, leave state untouched
		return nil
	}
}

func (a *Alerter) raiseAlert(ctx context.Context, day *analysis.DayAnalysis, now time.Time) error {
	fmt.Printf("ALERT RAISED: device=%s date=%s state=%s maxdev=%.1f%%\n",
		day.DeviceID, day.Date.Format("2006-01-02"), day.Report.State, day.Report.MaxAbsDev)

	newState := &AlertState{
		Status:          AlertStateActive,
		Date:            day.Date.Format("2006-01-02"),
		State:           string(day.Report.State),
		MaxAbsDeviation: day.Report.MaxAbsDev,
		RaisedAt:        now,
		LastSeen:        now,
	}
	if err := a.states.SetState(ctx, day.DeviceID, newState); err != nil {
		return err
	}

	event := &protocol.AlertEvent{
		Type:            protocol.AlertTypeRaised,
		DeviceID:        day.DeviceID,
		Description:     day.Meter.Description,
		Date:            day.Date,
		State:           string(day.Report.State),
		MaxAbsDeviation: day.Report.MaxAbsDev,
		Summary:         day.Annotation.Summary,
		RaisedAt:        now,
	}

	return a.publish(ctx, event)
}

func (a *Alerter) clearAlert(ctx context.Context, day *analysis.DayAnalysis, state *AlertState) error {
	fmt.Printf("ALERT CLEARED: device=%s\n", day.DeviceID)

	if err := a.states.DeleteState(ctx, day.DeviceID); err != nil {
		return err
	}

	event := &protocol.AlertEvent{
		Type:            protocol.AlertTypeCleared,
		DeviceID:        day.DeviceID,
		Description:     day.Meter.Description,
		Date:            day.Date,
		State:           string(analysis.StateNormal),
		MaxAbsDeviation: state.MaxAbsDeviation,
		RaisedAt:        state.RaisedAt,
	}

	return a.publish(ctx, event)
}

func (a *Alerter) publish(ctx context.Context, event *protocol.AlertEvent) error {
	data, err := protocol.EncodeAlertEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}

	return a.producer.Publish(ctx, event.DeviceID, data)
}
