package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
)

// LanguageModel answers free-form prompts. The narrative Gemini client
// satisfies it; tests use a canned fake.
type LanguageModel interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Assistant answers natural-language questions about meter consumption by
// dispatching parsed intents against the analysis engine.
type Assistant struct {
	svc      *analysis.Service
	scanner  *analysis.FleetScanner
	growth   *analysis.GrowthAnalyzer
	llm      LanguageModel // may be nil; parsing then relies on ParseLocal
	baseYear int
}

// NewAssistant creates an assistant. llm may be nil.
func NewAssistant(svc *analysis.Service, scanner *analysis.FleetScanner, growth *analysis.GrowthAnalyzer, llm LanguageModel, defaultBaseYear int) *Assistant {
	return &Assistant{
		svc:      svc,
		scanner:  scanner,
		growth:   growth,
		llm:      llm,
		baseYear: defaultBaseYear,
	}
}

// Handle answers one chat message
func (a *Assistant) Handle(ctx context.Context, message string) (string, error) {
	q := a.parse(ctx, message)
	log.Printf("chat query: %s", q.Describe())

	if q.Intent == IntentUnknown {
		return "I can answer questions about total energy, peak power, daily load analysis, " +
			"consumption anomalies, demand growth, and the available meters. " +
			"Try something like: \"how much energy did meter MTR-001 use in June 2025?\"", nil
	}

	if missing := q.Missing(); len(missing) > 0 {
		return fmt.Sprintf("To answer that I still need: %s.", strings.Join(missing, ", ")), nil
	}

	if q.BaseYear == 0 {
		q.BaseYear = a.baseYear
	}

	switch q.Intent {
	case IntentListMeters:
		return a.answerListMeters(ctx)
	case IntentTotalEnergy:
		return a.answerTotalEnergy(ctx, q)
	case IntentMaxPower:
		return a.answerMaxPower(ctx, q)
	case IntentLoadCurve:
		return a.answerLoadCurve(ctx, q)
	case IntentAnomalies:
		return a.answerAnomalies(ctx, q)
	case IntentGrowth:
		return a.answerGrowth(ctx, q)
	default:
		return "", fmt.Errorf("unhandled intent %s", q.Intent)
	}
}

// parse extracts a query, preferring the language model and falling back to
// the local parser. The local intent wins when the model's answer cannot be
// decoded.
func (a *Assistant) parse(ctx context.Context, message string) Query {
	local := ParseLocal(message)

	if a.llm == nil {
		return local
	}

	q, err := a.parseWithLLM(ctx, message)
	if err != nil {
		log.Printf("chat: model parse failed, using local parser: %v", err)
		return local
	}

	// Fill gaps the model left from the local parse
	if q.DeviceID == "" {
		q.DeviceID = local.DeviceID
	}
	if q.Date.IsZero() {
		q.Date = local.Date
	}
	if q.Start.IsZero() {
		q.Start = local.Start
		q.End = local.End
	}
	if q.BaseYear == 0 {
		q.BaseYear = local.BaseYear
	}
	if q.Intent == IntentUnknown {
		q.Intent = local.Intent
	}
	return q
}

type llmQuery struct {
	Intent   string `json:"intent"`
	DeviceID string `json:"device_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
	BaseYear int    `json:"base_year"`
}

func (a *Assistant) parseWithLLM(ctx context.Context, message string) (Query, error) {
	prompt := `Classify this question about electricity meters and extract its parameters.
Respond with a single JSON object only:
{"intent": "total_energy|max_power|load_curve|anomalies|growth|list_meters|unknown",
 "device_id": "", "date": "YYYY-MM-DD or empty", "start": "YYYY-MM-DD or empty",
 "end": "YYYY-MM-DD or empty (exclusive)", "base_year": 0}

Question: ` + message

	text, err := a.llm.Chat(ctx, prompt)
	if err != nil {
		return Query{}, err
	}

	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var raw llmQuery
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &raw); err != nil {
		return Query{}, fmt.Errorf("undecodable model reply: %w", err)
	}

	q := Query{
		Intent:   IntentFromString(raw.Intent),
		DeviceID: raw.DeviceID,
		BaseYear: raw.BaseYear,
	}
	q.Date = parseDay(raw.Date)
	q.Start = parseDay(raw.Start)
	q.End = parseDay(raw.End)

	// A start without an end means one month
	if !q.Start.IsZero() && q.End.IsZero() {
		q.End = q.Start.AddDate(0, 1, 0)
	}
	return q, nil
}

func parseDay(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Answer formatting

func (a *Assistant) answerListMeters(ctx context.Context) (string, error) {
	meters, err := a.svc.AvailableMeters(ctx)
	if err != nil {
		return "", err
	}
	if len(meters) == 0 {
		return "There are no active meters registered.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "There are %d active meters:\n", len(meters))
	for _, m := range meters {
		fmt.Fprintf(&sb, "- %s", m.DeviceID)
		if m.Description != "" {
			fmt.Fprintf(&sb, " (%s)", m.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Assistant) answerTotalEnergy(ctx context.Context, q Query) (string, error) {
	total, err := a.svc.TotalEnergy(ctx, q.DeviceID, q.Start, q.End)
	if err != nil {
		return a.errorReply(err, q)
	}
	return fmt.Sprintf("Meter %s used %.1f kWh between %s and %s (%d readings, average power %.2f kW).",
		q.DeviceID, total.TotalKWh, fmtDay(q.Start), fmtDay(q.End.AddDate(0, 0, -1)),
		total.ReadingCount, total.AveragePowerKW), nil
}

func (a *Assistant) answerMaxPower(ctx context.Context, q Query) (string, error) {
	peak, err := a.svc.MaxPower(ctx, q.DeviceID, q.Start, q.End)
	if err != nil {
		return a.errorReply(err, q)
	}
	return fmt.Sprintf("The peak demand for meter %s was %.2f kW on %s at %s.",
		q.DeviceID, peak.MaxPowerKW,
		peak.Timestamp.Format("2006-01-02"), peak.Timestamp.Format("15:04")), nil
}

func (a *Assistant) answerLoadCurve(ctx context.Context, q Query) (string, error) {
	day, err := a.svc.AnalyzeDay(ctx, q.DeviceID, q.Date, q.BaseYear)
	if err != nil {
		return a.errorReply(err, q)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Analysis for meter %s on %s (%s): %s.\n",
		day.DeviceID, day.Date.Format("2006-01-02"), day.Weekday, day.Report.State)
	fmt.Fprintf(&sb, "Maximum deviation from the usual %s pattern: %.1f%%.\n",
		day.Weekday, day.Report.MaxAbsDev)
	if day.Annotation.Summary != "" {
		sb.WriteString(day.Annotation.Summary)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Assistant) answerAnomalies(ctx context.Context, q Query) (string, error) {
	records, err := a.scanner.Scan(ctx, q.BaseYear, q.Start, q.End.AddDate(0, 0, -1), 21.0001)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return fmt.Sprintf("No anomalous consumption found between %s and %s.",
			fmtDay(q.Start), fmtDay(q.End.AddDate(0, 0, -1))), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d anomalous meter-days:\n", len(records))
	limit := len(records)
	if limit > 10 {
		limit = 10
	}
	for _, rec := range records[:limit] {
		fmt.Fprintf(&sb, "- %s on %s: up to %.1f%% off its usual pattern\n",
			rec.DeviceID, rec.Date.Format("2006-01-02"), rec.MaxAbsDeviation)
	}
	if len(records) > limit {
		fmt.Fprintf(&sb, "...and %d more.", len(records)-limit)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Assistant) answerGrowth(ctx context.Context, q Query) (string, error) {
	// Compare the asked period against the same period one year earlier
	prevStart := q.Start.AddDate(-1, 0, 0)
	prevEnd := q.End.AddDate(-1, 0, 0)

	records, err := a.growth.Compare(ctx, q.Start, q.End, prevStart, prevEnd, 0)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No meters have comparable data for both periods.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Energy growth, %s vs the year before:\n", fmtDay(q.Start))
	limit := len(records)
	if limit > 10 {
		limit = 10
	}
	for _, rec := range records[:limit] {
		fmt.Fprintf(&sb, "- %s: %+.1f%% (%.1f kWh -> %.1f kWh)\n",
			rec.DeviceID, rec.GrowthPercent, rec.PreviousPeriodEnergy, rec.CurrentPeriodEnergy)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Assistant) errorReply(err error, q Query) (string, error) {
	switch {
	case errors.Is(err, analysis.ErrMeterNotFound):
		return fmt.Sprintf("I don't know a meter called %s. Ask me to list the meters to see what's available.", q.DeviceID), nil
	case errors.Is(err, analysis.ErrNoData):
		return fmt.Sprintf("Meter %s has no readings for that period.", q.DeviceID), nil
	case errors.Is(err, analysis.ErrNoBaseline):
		return fmt.Sprintf("Meter %s has no historical data in %d to compare against.", q.DeviceID, q.BaseYear), nil
	default:
		return "", err
	}
}
