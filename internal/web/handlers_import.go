package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/shelter/internal/core"
	"github.com/JonMunkholm/shelter/internal/logging"
)

// multipartOverhead is the allowance for form boundaries and headers on top
// of the file itself.
const multipartOverhead = 1 << 20

// applyBodyFactor scales the file limit for apply bodies; the JSON echo of a
// preview is several times larger than the CSV it came from.
const applyBodyFactor = 4

// applyRequest is the body of POST /api/import/apply: the preview rows the
// user confirmed, possibly edited.
type applyRequest struct {
	Rows []core.CandidateRow `json:"rows" validate:"dive"`
}

// applyErrorResponse carries the partial counts of a failed apply.
type applyErrorResponse struct {
	ErrorResponse
	Result core.ApplyResult `json:"result"`
}

// handlePreview classifies an uploaded CSV without writing anything.
// Accepts a multipart form with a "file" field or a raw CSV body.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	resp, err := s.service.Preview(r.Context(), data)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	writeJSON(w, resp)
}

// readUpload returns the CSV bytes of a preview request.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	maxSize := s.service.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxSize); err != nil {
			return nil, uploadError(err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, core.ErrNoFile
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, uploadError(err)
	}
	if len(data) == 0 {
		return nil, core.ErrNoFile
	}
	return data, nil
}

// uploadError maps body read failures to the file-size sentinel where it
// applies.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: body exceeds %d bytes", core.ErrFileTooLarge, maxErr.Limit)
	}
	return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
}

// handleApply reconciles the confirmed rows. A failed apply still reports
// the work it completed, since nothing is rolled back.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxFileSize()*applyBodyFactor)

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, uploadError(err), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidRequest, err), http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Apply(ctx, req.Rows)
	if err != nil {
		status := statusFor(err)
		if status != http.StatusInternalServerError || isHTMX(r) {
			respondError(w, r, err, status)
			return
		}

		msg := core.MapError(err)
		logRequestError(r, err, status, msg.Code)
		writeJSONStatus(w, status, applyErrorResponse{
			ErrorResponse: newErrorResponse(msg, requestID(r)),
			Result:        result,
		})
		return
	}

	writeJSON(w, result)
}

// handleHistory lists recent imports, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs := s.service.History()
	if limit := parseIntParam(r, "limit", len(runs)); limit < len(runs) {
		runs = runs[:limit]
	}
	writeJSON(w, map[string]any{
		"runs":   runs,
		"import": s.service.LimiterStatus(),
	})
}

// handleExport downloads every active animal as an importable CSV.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	n, err := s.service.Export(r.Context(), &buf)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("animals_%s.csv", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("X-Record-Count", strconv.Itoa(n))
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.FromContext(r.Context()).Warn("export write failed", "error", err)
	}
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
