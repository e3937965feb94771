package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ironsheep/orthoscan/internal/apperr"
	"github.com/ironsheep/orthoscan/internal/logger"
	"github.com/ironsheep/orthoscan/internal/metrics"
	"github.com/ironsheep/orthoscan/internal/pipeline"
	"github.com/ironsheep/orthoscan/internal/report"
)

// DoctorHeader carries the caller's identity. Authentication happens in
// front of this service.
const DoctorHeader = "X-Doctor-ID"

// DefaultMaxUploadBytes bounds a multipart upload.
const DefaultMaxUploadBytes = 32 << 20

// HTTPServer exposes the pipeline as a REST API with multipart uploads.
type HTTPServer struct {
	pipeline  *pipeline.Orchestrator
	log       logger.Logger
	metrics   *metrics.Metrics
	maxUpload int64
}

// NewHTTP builds the REST transport. log and m may be nil; without m the
// /metrics route is not registered.
func NewHTTP(p *pipeline.Orchestrator, log logger.Logger, m *metrics.Metrics, maxUpload int64) *HTTPServer {
	if log == nil {
		log = logger.Nop()
	}
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &HTTPServer{pipeline: p, log: log, metrics: m, maxUpload: maxUpload}
}

// Handler returns the routed handler.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze", h.handleAnalyze)
	mux.HandleFunc("POST /detect", h.handleDetect)
	mux.HandleFunc("POST /segment", h.handleSegment)
	mux.HandleFunc("POST /annotate", h.handleAnnotate)
	mux.HandleFunc("POST /report", h.handleReport)
	mux.HandleFunc("GET /reports", h.handleListReports)
	mux.HandleFunc("GET /reports/{id}/download", h.handleDownload)
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}

	return h.logRequests(cors(mux))
}

// cors lets the browser client call the API from another origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+DoctorHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Debug("http", "request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func doctorID(r *http.Request) string {
	if id := r.Header.Get(DoctorHeader); id != "" {
		return id
	}
	return "anonymous"
}

// upload parses the multipart form and returns the bytes of its "file" part.
func (h *HTTPServer) upload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, err
		}
		return nil, apperr.E(apperr.InvalidInput, "upload", err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, "upload", fmt.Errorf("file: %w", err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, apperr.E(apperr.InvalidInput, "upload", err)
	}
	return data, nil
}

func (h *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	data, err := h.upload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	finding, err := h.pipeline.Analyze(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, finding)
}

func (h *HTTPServer) handleDetect(w http.ResponseWriter, r *http.Request) {
	data, err := h.upload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.pipeline.Detect(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *HTTPServer) handleSegment(w http.ResponseWriter, r *http.Request) {
	data, err := h.upload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.pipeline.Segment(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *HTTPServer) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	data, err := h.upload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.pipeline.Annotate(r.Context(), data, pipeline.AnnotateRequest{
		RawLocation: []byte(r.FormValue("damage_location")),
		WithMask:    formBool(r.FormValue("with_mask")),
		Label:       r.FormValue("label"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	data, err := h.upload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sub := report.Submission{
		PatientID:        r.FormValue("patient_id"),
		Disorder:         r.FormValue("disorder"),
		Confidence:       r.FormValue("confidence"),
		Severity:         r.FormValue("severity"),
		Notes:            r.FormValue("notes"),
		DetailedAnalysis: r.FormValue("detailed_analysis"),
		Recommendations:  r.FormValue("recommendations"),
		DamageLocation:   r.FormValue("damage_location"),
		DoctorName:       r.FormValue("doctor_name"),
		IsAnnotatedImage: formBool(r.FormValue("is_annotated_image")),
	}
	saveOnly := formBool(r.URL.Query().Get("save_only"))

	res, err := h.pipeline.SubmitReport(r.Context(), sub, doctorID(r), data, saveOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if saveOnly {
		writeJSON(w, res)
		return
	}
	writePDF(w, "report.pdf", res.PDF)
}

func (h *HTTPServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.pipeline.ListReports(r.Context(), doctorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, reports)
}

func (h *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pdf, err := h.pipeline.RenderReport(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writePDF(w, fmt.Sprintf("report_%s.pdf", id), pdf)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.pipeline.Health())
}

// formBool reads a form flag. Anything strconv.ParseBool rejects is false.
func formBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return http.StatusRequestEntityTooLarge
	}
	switch apperr.KindOf(err) {
	case apperr.ImageDecodeFailure, apperr.InvalidInput, apperr.InvalidGeometry:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"kind":   apperr.KindOf(err).String(),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("http", err, fields)
	} else {
		fields["error"] = err.Error()
		h.log.Info("http", "request rejected", fields)
	}
	writeJSONWithStatus(w, map[string]string{"detail": err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

func writePDF(w http.ResponseWriter, filename string, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
