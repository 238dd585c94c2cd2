package chat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Intent identifies what a chat message is asking for
type Intent int

const (
	IntentUnknown Intent = iota
	IntentTotalEnergy
	IntentMaxPower
	IntentLoadCurve
	IntentAnomalies
	IntentGrowth
	IntentListMeters
)

func (i Intent) String() string {
	switch i {
	case IntentTotalEnergy:
		return "total_energy"
	case IntentMaxPower:
		return "max_power"
	case IntentLoadCurve:
		return "load_curve"
	case IntentAnomalies:
		return "anomalies"
	case IntentGrowth:
		return "growth"
	case IntentListMeters:
		return "list_meters"
	default:
		return "unknown"
	}
}

// IntentFromString maps the wire name back to an Intent
func IntentFromString(s string) Intent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "total_energy":
		return IntentTotalEnergy
	case "max_power":
		return IntentMaxPower
	case "load_curve":
		return IntentLoadCurve
	case "anomalies":
		return IntentAnomalies
	case "growth":
		return IntentGrowth
	case "list_meters":
		return IntentListMeters
	default:
		return IntentUnknown
	}
}

// Query is a parsed chat request
type Query struct {
	Intent   Intent
	DeviceID string
	Date     time.Time // single-day questions
	Start    time.Time // period questions
	End      time.Time
	BaseYear int
}

var (
	deviceRe = regexp.MustCompile(`(?i)\b(?:meter|device|contador)\s+([A-Za-z0-9][A-Za-z0-9_-]{2,})`)
	// Bare device ids like MTR-001 or ES0021000001
	bareDeviceRe = regexp.MustCompile(`\b([A-Z]{2,4}[0-9-][A-Za-z0-9-]{2,})\b`)
	isoDateRe    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	monthYearRe  = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(?:of\s+)?(\d{4})\b`)
	baseYearRe   = regexp.MustCompile(`(?i)\b(?:against|versus|vs|baseline|compared? (?:to|with))\s+(\d{4})\b`)
	bareYearRe   = regexp.MustCompile(`\b(20\d{2})\b`)
)

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// ParseLocal extracts a Query from free text without any model assistance.
// It is the fallback when the LLM is unavailable and the cross-check for its
// output.
func ParseLocal(message string) Query {
	q := Query{Intent: classify(message)}

	if m := deviceRe.FindStringSubmatch(message); m != nil {
		q.DeviceID = m[1]
	} else if m := bareDeviceRe.FindStringSubmatch(message); m != nil {
		q.DeviceID = m[1]
	}

	if m := isoDateRe.FindStringSubmatch(message); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		q.Date = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	} else if m := slashDateRe.FindStringSubmatch(message); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		q.Date = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	}

	if m := monthYearRe.FindStringSubmatch(message); m != nil {
		month := monthNames[strings.ToLower(m[1])]
		year, _ := strconv.Atoi(m[2])
		q.Start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		q.End = q.Start.AddDate(0, 1, 0)
	}

	if m := baseYearRe.FindStringSubmatch(message); m != nil {
		q.BaseYear, _ = strconv.Atoi(m[1])
	}

	// A lone year with no other temporal anchor means "that whole year"
	if q.Date.IsZero() && q.Start.IsZero() {
		if m := bareYearRe.FindStringSubmatch(message); m != nil {
			year, _ := strconv.Atoi(m[1])
			q.Start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			q.End = q.Start.AddDate(1, 0, 0)
		}
	}

	return q
}

func classify(message string) Intent {
	lower := strings.ToLower(message)

	switch {
	case containsAny(lower, "list", "which meters", "what meters", "devices", "available meters"):
		return IntentListMeters
	case containsAny(lower, "growth", "grew", "increase", "increased", "growing"):
		return IntentGrowth
	case containsAny(lower, "anomal", "outlier", "unusual", "strange", "deviat", "scan"):
		return IntentAnomalies
	case containsAny(lower, "max power", "peak", "maximum power", "highest demand", "max demand"):
		return IntentMaxPower
	case containsAny(lower, "load curve", "profile", "pattern", "analyze", "analysis", "how was"):
		return IntentLoadCurve
	case containsAny(lower, "total", "consumption", "consumed", "energy", "how much", "kwh"):
		return IntentTotalEnergy
	default:
		return IntentUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Missing returns the names of required parameters the query lacks, used to
// build clarification replies.
func (q Query) Missing() []string {
	var missing []string

	switch q.Intent {
	case IntentTotalEnergy, IntentMaxPower:
		if q.DeviceID == "" {
			missing = append(missing, "meter id")
		}
		if q.Start.IsZero() {
			missing = append(missing, "period (for example a month like 'June 2025')")
		}
	case IntentLoadCurve:
		if q.DeviceID == "" {
			missing = append(missing, "meter id")
		}
		if q.Date.IsZero() {
			missing = append(missing, "date (for example '2025-06-12')")
		}
	case IntentAnomalies, IntentGrowth:
		if q.Start.IsZero() {
			missing = append(missing, "period (for example a month like 'June 2025')")
		}
	}

	return missing
}

// Describe renders the query for logging
func (q Query) Describe() string {
	return fmt.Sprintf("intent=%s device=%s date=%s period=[%s,%s) base_year=%d",
		q.Intent, q.DeviceID, fmtDay(q.Date), fmtDay(q.Start), fmtDay(q.End), q.BaseYear)
}

func fmtDay(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
