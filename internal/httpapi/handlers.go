package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/internal/ingest"
)

const maxUploadBytes = 32 << 20 // 32MB CSV uploads

// Request/response shapes. Dates travel as "YYYY-MM-DD" strings.

type analyzeRequest struct {
	DeviceID string `json:"device_id"`
	Date     string `json:"date"`
	BaseYear int    `json:"base_year"`
}

type outliersRequest struct {
	Start     string  `json:"start"`
	End       string  `json:"end"`
	BaseYear  int     `json:"base_year"`
	Threshold float64 `json:"threshold"`
}

type growthRequest struct {
	CurrentStart     string  `json:"current_start"`
	CurrentEnd       string  `json:"current_end"`
	PreviousStart    string  `json:"previous_start"`
	PreviousEnd      string  `json:"previous_end"`
	MinGrowthPercent float64 `json:"min_growth_percent"`
}

type rangeRequest struct {
	DeviceID string `json:"device_id"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type uploadResponse struct {
	DeviceID string            `json:"device_id"`
	Imported int               `json:"imported"`
	Skipped  []ingest.RowError `json:"skipped"`
	Years    []int             `json:"years"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if req.BaseYear == 0 {
		req.BaseYear = s.defaultBaseYear
	}

	result, err := s.svc.AnalyzeDay(r.Context(), req.DeviceID, date, req.BaseYear)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalyzeOutliers(w http.ResponseWriter, r *http.Request) {
	var req outliersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not precede start")
		return
	}
	if req.BaseYear == 0 {
		req.BaseYear = s.defaultBaseYear
	}
	if req.Threshold == 0 {
		req.Threshold = s.defaultThreshold
	}

	records, err := s.scanner.Scan(r.Context(), req.BaseYear, start, end, req.Threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []analysis.AnomalyRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDemandGrowth(w http.ResponseWriter, r *http.Request) {
	var req growthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	curStart, err1 := parseDate(req.CurrentStart)
	curEnd, err2 := parseDate(req.CurrentEnd)
	prevStart, err3 := parseDate(req.PreviousStart)
	prevEnd, err4 := parseDate(req.PreviousEnd)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		writeError(w, http.StatusBadRequest, "all period bounds must be YYYY-MM-DD")
		return
	}

	records, err := s.growth.Compare(r.Context(), curStart, curEnd, prevStart, prevEnd, req.MinGrowthPercent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []analysis.GrowthRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTotalEnergy(w http.ResponseWriter, r *http.Request) {
	req, start, end, ok := s.decodeRangeRequest(w, r)
	if !ok {
		return
	}

	total, err := s.svc.TotalEnergy(r.Context(), req.DeviceID, start, end)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, total)
}

func (s *Server) handleMaxPower(w http.ResponseWriter, r *http.Request) {
	req, start, end, ok := s.decodeRangeRequest(w, r)
	if !ok {
		return
	}

	peak, err := s.svc.MaxPower(r.Context(), req.DeviceID, start, end)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peak)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "chat assistant is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.assistant.Handle(r.Context(), req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// handleUpload imports a CSV of interval readings for one meter. The body is
// the raw CSV, matching how metering exports are pushed by scripts.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.warehouse == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not configured")
		return
	}

	deviceID := mux.Vars(r)["device_id"]
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	result, err := ingest.ParseReadings(io.LimitReader(r.Body, maxUploadBytes), deviceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(result.Readings) == 0 {
		writeError(w, http.StatusBadRequest, "no parseable readings in file")
		return
	}

	if err := s.warehouse.BulkUpsertReadings(r.Context(), result.Readings); err != nil {
		log.Printf("upload for %s failed: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to store readings")
		return
	}

	skipped := result.Skipped
	if skipped == nil {
		skipped = []ingest.RowError{}
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		DeviceID: deviceID,
		Imported: len(result.Readings),
		Skipped:  skipped,
		Years:    ingest.YearsFromReadings(result.Readings),
	})
}

// handleYearsFromCSV inspects a CSV without importing it
func (s *Server) handleYearsFromCSV(w http.ResponseWriter, r *http.Request) {
	result, err := ingest.ParseReadings(io.LimitReader(r.Body, maxUploadBytes), "inspect")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	years := ingest.YearsFromReadings(result.Readings)
	if years == nil {
		years = []int{}
	}
	writeJSON(w, http.StatusOK, map[string][]int{"years": years})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	meters, err := s.svc.AvailableMeters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if meters == nil {
		meters = []analysis.Meter{}
	}
	writeJSON(w, http.StatusOK, meters)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	meter, err := s.svc.Store().Meter(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if meter == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("meter %s not found", deviceID))
		return
	}
	writeJSON(w, http.StatusOK, meter)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	years, err := s.svc.AvailableYears(r.Context(), deviceID)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	if years == nil {
		years = []int{}
	}
	writeJSON(w, http.StatusOK, map[string][]int{"years": years})
}

func (s *Server) handleAvailableData(w http.ResponseWriter, r *http.Request) {
	if s.warehouse == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not configured")
		return
	}

	summaries, err := s.warehouse.DataCoverage(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Helpers

func (s *Server) decodeRangeRequest(w http.ResponseWriter, r *http.Request) (rangeRequest, time.Time, time.Time, bool) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, time.Time{}, time.Time{}, false
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return req, time.Time{}, time.Time{}, false
	}
	start, err := parseDate(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return req, time.Time{}, time.Time{}, false
	}
	end, err := parseDate(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return req, time.Time{}, time.Time{}, false
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must follow start")
		return req, time.Time{}, time.Time{}, false
	}
	return req, start, end, true
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	// Marshal before touching the header so an encoding failure can still
	// become a 500 instead of a silent empty 200.
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("response encoding failed: %v", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"response encoding failed"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAnalysisError maps the engine's error taxonomy onto HTTP statuses
func writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrMeterNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analysis.ErrNoData), errors.Is(err, analysis.ErrNoBaseline):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
