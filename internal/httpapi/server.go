package httpapi

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jrmarin/energy-server/internal/analysis"
	"github.com/jrmarin/energy-server/internal/chat"
	"github.com/jrmarin/energy-server/internal/database"
)

// Warehouse is the write/reporting side of the store the API needs beyond
// the analysis engine's read interface. *database.DB satisfies it.
type Warehouse interface {
	BulkUpsertReadings(ctx context.Context, readings []analysis.Reading) error
	DataCoverage(ctx context.Context, limit int) ([]database.CoverageSummary, error)
}

// Server is the HTTP analytics API
type Server struct {
	svc       *analysis.Service
	scanner   *analysis.FleetScanner
	growth    *analysis.GrowthAnalyzer
	assistant *chat.Assistant
	warehouse Warehouse

	defaultBaseYear  int
	defaultThreshold float64
}

// NewServer creates the API server. assistant and warehouse may be nil; the
// corresponding endpoints then answer 503.
func NewServer(
	svc *analysis.Service,
	scanner *analysis.FleetScanner,
	growth *analysis.GrowthAnalyzer,
	assistant *chat.Assistant,
	warehouse Warehouse,
	defaultBaseYear int,
	defaultThreshold float64,
) *Server {
	return &Server{
		svc:              svc,
		scanner:          scanner,
		growth:           growth,
		assistant:        assistant,
		warehouse:        warehouse,
		defaultBaseYear:  defaultBaseYear,
		defaultThreshold: defaultThreshold,
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	r.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/analyze-outliers", s.handleAnalyzeOutliers).Methods("POST")
	r.HandleFunc("/demand-growth", s.handleDemandGrowth).Methods("POST")
	r.HandleFunc("/total-energy", s.handleTotalEnergy).Methods("POST")
	r.HandleFunc("/max-power", s.handleMaxPower).Methods("POST")
	r.HandleFunc("/chat", s.handleChat).Methods("POST")

	r.HandleFunc("/upload/{device_id}", s.handleUpload).Methods("POST")
	r.HandleFunc("/years-from-csv", s.handleYearsFromCSV).Methods("POST")

	r.HandleFunc("/devices", s.handleDevices).Methods("GET")
	r.HandleFunc("/devices/{device_id}", s.handleDevice).Methods("GET")
	r.HandleFunc("/years/{device_id}", s.handleYears).Methods("GET")
	r.HandleFunc("/available-data", s.handleAvailableData).Methods("GET")

	return r
}

// Handler wraps the router with request id, CORS and logging middleware
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	h := http.Handler(s.Router())
	h = requestIDMiddleware(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.LoggingHandler(os.Stdout, h)
	return h
}

// requestIDMiddleware tags each request with an id for log correlation
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
