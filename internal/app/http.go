package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prearrival/api/internal/auth"
	"prearrival/api/internal/blobstore"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/pack"
)

// maxUploadRequestBytes leaves room for the other form fields around a file
// of the largest accepted size.
const maxUploadRequestBytes = checklist.MaxUploadBytes + 1<<20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

// NewHTTPServer wires the API routes. metricsHandler, when set, is served at
// /metrics.
func NewHTTPServer(service *Service, corsOrigin string, metricsHandler http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: metricsHandler}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":       session.UserID,
			"userName":     session.UserName,
			"party":        session.Party,
			"capabilities": session.Caps.Strings(),
			"expiresAt":    session.ExpiresAt,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/review-queue" {
		s.handleReviewQueue(w, r, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/archive-upload" {
		url, err := s.service.UploadArchive(r.Context(), session, r.URL.Query().Get("name"), r.Body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && strings.HasPrefix(r.URL.Path, blobstore.FilesPrefix) {
		s.handleFile(w, r, session, strings.TrimPrefix(r.URL.Path, blobstore.FilesPrefix))
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "requests" {
		s.handleRequests(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// Optional backends degrade features but do not make the API unready.
	for name, err := range s.service.Dependencies(ctx) {
		check := map[string]any{"status": "ok"}
		if err != nil {
			check = map[string]any{"status": "degraded", "error": err.Error()}
		}
		checks[name] = check
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, session Session, requestID string, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		query := r.URL.Query()
		readOnly, _ := strconv.ParseBool(query.Get("readOnly"))
		view, err := s.service.GetRequest(r.Context(), session, requestID, readOnly, query.Get("status"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case r.Method == http.MethodPatch && len(rest) == 1 && rest[0] == "documents":
		s.handleUpload(w, r, session, requestID)

	case r.Method == http.MethodPatch && len(rest) == 2 && rest[0] == "documents" && rest[1] == "verify":
		var body VerifyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rec, err := s.service.VerifyDocument(r.Context(), session, requestID, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "pack":
		s.handlePackDownload(w, r, session, requestID)

	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "pack" && rest[1] == "share":
		var body ShareInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SharePack(r.Context(), session, requestID, body)
		if errors.Is(err, pack.ErrNoApprovableDocuments) {
			writeNoApprovedWarning(w)
			return
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "report":
		res, err := s.service.Report(r.Context(), session, requestID, r.URL.Query().Get("format"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", res.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session, requestID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	if err := r.ParseMultipartForm(maxUploadRequestBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeServiceError(w, r, &checklist.ValidationError{Field: "file", Message: fmt.Sprintf("file exceeds %d bytes", checklist.MaxUploadBytes)})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	input := UploadInput{
		DocID: r.FormValue("docId"),
		Owner: r.FormValue("owner"),
		Note:  r.FormValue("note"),
	}
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		input.File = &FileUpload{
			Name:        header.Filename,
			Size:        header.Size,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
	case !errors.Is(err, http.ErrMissingFile):
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid file part", nil)
		return
	}

	rec, err := s.service.UploadDocument(r.Context(), session, requestID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func (s *HTTPServer) handlePackDownload(w http.ResponseWriter, r *http.Request, session Session, requestID string) {
	archive, err := s.service.BuildPack(r.Context(), session, requestID)
	if errors.Is(err, pack.ErrNoApprovableDocuments) {
		writeNoApprovedWarning(w)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	w.Header().Set("X-Pack-Checksum", archive.Checksum)
	w.Header().Set("X-Pack-Files", strconv.Itoa(len(archive.Files)))
	w.Header().Set("X-Pack-Skipped", strconv.Itoa(len(archive.Skipped)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive.Data)
}

func (s *HTTPServer) handleFile(w http.ResponseWriter, r *http.Request, session Session, key string) {
	obj, err := s.service.OpenFile(r.Context(), session, key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer obj.Body.Close()
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	if obj.ETag != "" {
		w.Header().Set("ETag", strconv.Quote(obj.ETag))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		s.service.log.Warn().Err(err).Str("key", key).Msg("stream file")
	}
}

func (s *HTTPServer) handleReviewQueue(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp, err := s.service.ReviewQueue(r.Context(), session, QueueInput{
		Text:   query.Get("q"),
		Status: query.Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeNoApprovedWarning(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"warning": "NO_APPROVED_DOCUMENTS",
		"message": "No approved documents to include in the pack",
	})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		route := routeLabel(r.URL.Path)
		s.service.metrics.RecordHTTPRequest(route, strconv.Itoa(writer.status), duration)
		s.service.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", writer.status).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("http request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel collapses ids and file keys so metric labels stay bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	switch {
	case len(parts) >= 2 && parts[0] == "api" && parts[1] == "files":
		return "/api/files/*"
	case len(parts) >= 3 && parts[0] == "api" && parts[1] == "requests":
		parts[2] = ":id"
	case len(parts) > 3:
		return "other"
	}
	if len(parts) > 5 {
		return "other"
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Pack-Checksum, X-Pack-Files, X-Pack-Skipped")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
