package narrative

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/pkg/config"
)

func testReport() analysis.DeviationReport {
	return analysis.DeviationReport{
		DeviceID: "MTR-001",
		Date:     time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		Weekday:  time.Monday,
		State:    analysis.StateCritical,
		Points: []analysis.DeviationPoint{
			{TimeOfDay: "14:00", Actual: 20, ExpectedMean: 10, PercentDeviation: 100},
		},
		MaxAbsDev: 100,
	}
}

func modelReply(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{
				"parts": []map[string]string{{"text": text}},
			}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

const annotationJSON = `{"summary": "Usage doubled in the afternoon.", "habits": "Low overnight, steady daytime load.", "anomalies": [{"period": "14:00-15:00", "description": "Consumption twice the expected level."}], "recommendation": "Check for equipment left running."}`

func newTestAnnotator(serverURL string) *GeminiAnnotator {
	return &GeminiAnnotator{
		apiKey:        "test-key",
		model:         "test-model",
		fallbackModel: "test-fallback",
		baseURL:       serverURL,
		client:        &http.Client{Timeout: 5 * time.Second},
	}
}

func TestGeminiAnnotator_Annotate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model") {
			t.Errorf("Expected primary model in path, got %s", r.URL.Path)
		}
		w.Write([]byte(modelReply(annotationJSON)))
	}))
	defer srv.Close()

	g := newTestAnnotator(srv.URL)
	ann, err := g.Annotate(context.Background(), analysis.Meter{DeviceID: "MTR-001"}, testReport())
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	if ann.Summary != "Usage doubled in the afternoon." {
		t.Errorf("Unexpected summary: %q", ann.Summary)
	}
	if len(ann.Anomalies) != 1 || ann.Anomalies[0].Period != "14:00-15:00" {
		t.Errorf("Unexpected anomalies: %+v", ann.Anomalies)
	}
}

func TestGeminiAnnotator_FallbackModel(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if strings.Contains(r.URL.Path, "test-fallback") {
			w.Write([]byte(modelReply(annotationJSON)))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := newTestAnnotator(srv.URL)
	ann, err := g.Annotate(context.Background(), analysis.Meter{}, testReport())
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("Expected 2 calls (primary then fallback), got %d", len(calls))
	}
	if ann.Recommendation == "" {
		t.Error("Expected recommendation from fallback model")
	}
}

func TestGeminiAnnotator_BothModelsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestAnnotator(srv.URL)
	_, err := g.Annotate(context.Background(), analysis.Meter{}, testReport())
	if err == nil {
		t.Fatal("Expected error when both models fail")
	}
}

func TestParseAnnotation_MarkdownFence(t *testing.T) {
	text := "```json\n" + annotationJSON + "\n```"
	ann, err := parseAnnotation(text)
	if err != nil {
		t.Fatalf("parseAnnotation failed: %v", err)
	}
	if ann.Habits != "Low overnight, steady daytime load." {
		t.Errorf("Unexpected habits: %q", ann.Habits)
	}
}

func TestParseAnnotation_SurroundingProse(t *testing.T) {
	text := "Here is the analysis you asked for:\n" + annotationJSON + "\nLet me know if you need more."
	ann, err := parseAnnotation(text)
	if err != nil {
		t.Fatalf("parseAnnotation failed: %v", err)
	}
	if ann.Summary == "" {
		t.Error("Expected summary to be extracted")
	}
}

func TestParseAnnotation_NoJSON(t *testing.T) {
	if _, err := parseAnnotation("I cannot analyze this data."); err == nil {
		t.Fatal("Expected error for output without JSON")
	}
}

func TestParseAnnotation_NilAnomalies(t *testing.T) {
	ann, err := parseAnnotation(`{"summary": "Quiet day.", "habits": "", "recommendation": ""}`)
	if err != nil {
		t.Fatalf("parseAnnotation failed: %v", err)
	}
	if ann.Anomalies == nil {
		t.Error("Anomalies should be an empty slice, not nil")
	}
}

func TestNewGeminiAnnotator_Disabled(t *testing.T) {
	g := NewGeminiAnnotator(&config.GeminiConfig{})
	if g != nil {
		t.Error("Expected nil annotator when no API key is configured")
	}
}
