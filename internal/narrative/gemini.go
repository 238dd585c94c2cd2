package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/pkg/config"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAnnotator narrates deviation reports through the Gemini API. It
// implements analysis.Annotator; callers degrade to the stub annotation when
// Annotate returns an error.
type GeminiAnnotator struct {
	apiKey        string
	model         string
	fallbackModel string
	baseURL       string
	client        *http.Client
}

// NewGeminiAnnotator creates an annotator from config. Returns nil when no
// API key is configured so callers can wire a nil Annotator straight into
// the analysis service.
func NewGeminiAnnotator(cfg *config.GeminiConfig) *GeminiAnnotator {
	if !cfg.Enabled() {
		return nil
	}
	return &GeminiAnnotator{
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		baseURL:       defaultBaseURL,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Annotate generates a narrative annotation for one day's deviation report.
// The primary model is tried first; quota or availability failures fall
// through to the fallback model before giving up.
func (g *GeminiAnnotator) Annotate(ctx context.Context, meter analysis.Meter, report analysis.DeviationReport) (analysis.Annotation, error) {
	prompt := buildPrompt(meter, report)

	text, err := g.generate(ctx, g.model, prompt)
	if err != nil && g.fallbackModel != "" && g.fallbackModel != g.model {
		fmt.Printf("Primary model %s failed (%v), trying %s\n", g.model, err, g.fallbackModel)
		text, err = g.generate(ctx, g.fallbackModel, prompt)
	}
	if err != nil {
		return analysis.Annotation{}, err
	}

	ann, err := parseAnnotation(text)
	if err != nil {
		return analysis.Annotation{}, fmt.Errorf("failed to parse model output: %w", err)
	}
	return ann, nil
}

// generateContent request/response wire format

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *GeminiAnnotator) generate(ctx context.Context, model, prompt string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model %s returned status %d: %s", model, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if genResp.Error != nil {
		return "", fmt.Errorf("model %s error %d: %s", model, genResp.Error.Code, genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("model %s returned no candidates", model)
	}

	return genResp.Candidates[0].Content.Parts[0].Text, nil
}

func buildPrompt(meter analysis.Meter, report analysis.DeviationReport) string {
	var sb strings.Builder

	sb.WriteString("You are an energy consumption analyst. Below is a day's electricity usage for one meter, ")
	sb.WriteString("compared slot by slot against its historical pattern for the same weekday.\n\n")

	fmt.Fprintf(&sb, "Meter: %s", report.DeviceID)
	if meter.Description != "" {
		fmt.Fprintf(&sb, " (%s)", meter.Description)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Date: %s (%s)\n", report.Date.Format("2006-01-02"), report.Weekday)
	fmt.Fprintf(&sb, "Overall classification: %s\n", report.State)
	fmt.Fprintf(&sb, "Maximum absolute deviation: %.1f%%\n\n", report.MaxAbsDev)

	sb.WriteString("time_of_day, actual_kwh, expected_kwh, deviation_percent\n")
	for _, p := range report.Points {
		fmt.Fprintf(&sb, "%s, %.3f, %.3f, %.1f\n", p.TimeOfDay, p.Actual, p.ExpectedMean, p.PercentDeviation)
	}

	sb.WriteString("\nRespond with a single JSON object, no prose around it, with exactly these fields:\n")
	sb.WriteString(`{"summary": "...", "habits": "...", "anomalies": [{"period": "HH:MM-HH:MM", "description": "..."}], "recommendation": "..."}` + "\n")
	sb.WriteString("summary: two sentences on the day's consumption. ")
	sb.WriteString("habits: the usage pattern the history implies. ")
	sb.WriteString("anomalies: time ranges where the day departed from the pattern, empty array if none. ")
	sb.WriteString("recommendation: one practical suggestion for the customer.\n")

	return sb.String()
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseAnnotation extracts the annotation JSON from model output. Models
// wrap JSON in markdown fences often enough that stripping them is the
// normal path, not the exception.
func parseAnnotation(text string) (analysis.Annotation, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var ann analysis.Annotation
	if err := json.Unmarshal([]byte(cleaned), &ann); err == nil {
		if ann.Anomalies == nil {
			ann.Anomalies = []analysis.AnomalyPeriod{}
		}
		return ann, nil
	}

	// Last resort: grab the first JSON object in the text
	match := jsonObjectRe.FindString(cleaned)
	if match == "" {
		return analysis.Annotation{}, fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(match), &ann); err != nil {
		return analysis.Annotation{}, err
	}
	if ann.Anomalies == nil {
		ann.Anomalies = []analysis.AnomalyPeriod{}
	}
	return ann, nil
}

// Chat sends a free-form prompt and returns the raw text reply. Used by the
// conversational endpoint.
func (g *GeminiAnnotator) Chat(ctx context.Context, prompt string) (string, error) {
	text, err := g.generate(ctx, g.model, prompt)
	if err != nil && g.fallbackModel != "" && g.fallbackModel != g.model {
		text, err = g.generate(ctx, g.fallbackModel, prompt)
	}
	return text, err
}

// WithTimeout returns a context bounded by the annotator's request timeout.
func (g *GeminiAnnotator) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.client.Timeout+5*time.Second)
}
