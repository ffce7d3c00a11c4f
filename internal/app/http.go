package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marginalia/api/internal/auth"
	"marginalia/api/internal/realtime"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
)

const maxMessageBytes = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
	// tokenSecret enables bearer authentication when non-empty.
	tokenSecret []byte
}

func NewHTTPServer(service *Service, corsOrigin, tokenSecret string) *HTTPServer {
	server := &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: MetricsHandler()}
	if tokenSecret != "" {
		server.tokenSecret = []byte(tokenSecret)
	}
	return server
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	caller, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/threads" {
		writeJSON(w, http.StatusOK, s.service.Threads())
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/filter" {
		var body struct {
			Query string `json:"query"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.SetQuery(body.Query))
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/filter/focus" {
		var body struct {
			Active bool `json:"active"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		state, err := s.service.SetFocusActive(body.Active)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/sort" {
		var body struct {
			Key string `json:"key"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		key, err := s.service.SetSort(body.Key)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sort": key.String()})
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/selection" {
		var body Selection
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.SetSelection(body))
		return
	}

	parts := splitPath(r.URL.Path)

	// PUT /api/threads/{id}/expanded
	if r.Method == http.MethodPut && len(parts) == 4 && parts[0] == "api" && parts[1] == "threads" && parts[3] == "expanded" {
		var body struct {
			Expanded bool `json:"expanded"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.service.SetExpanded(parts[2], body.Expanded)
		writeJSON(w, http.StatusOK, map[string]any{"id": parts[2], "expanded": body.Expanded})
		return
	}

	// GET /api/threads/{id}/offset
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "threads" && parts[3] == "offset" {
		offset, err := s.service.ScrollOffset(parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": parts[2], "offset": offset})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/annotations" {
		var body store.Annotation
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		attribute(&body, caller)
		saved, err := s.service.SaveAnnotation(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/drafts" {
		var body store.Annotation
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		attribute(&body, caller)
		draft, err := s.service.CreateDraft(body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, draft)
		return
	}

	// DELETE /api/annotations/{id}
	if r.Method == http.MethodDelete && len(parts) == 3 && parts[0] == "api" && parts[1] == "annotations" {
		if err := s.service.DeleteAnnotation(r.Context(), parts[2]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/pending" {
		writeJSON(w, http.StatusOK, s.service.Pending())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/pending/apply" {
		updated, deleted := s.service.ApplyPending()
		writeJSON(w, http.StatusOK, map[string]any{"updated": updated, "deleted": deleted})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/groups/focus" {
		var body struct {
			GroupID string `json:"groupId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.GroupID) == "" {
			writeError(w, http.StatusBadRequest, "GROUP_REQUIRED", "groupId is required", nil)
			return
		}
		if !caller.CanFocus(body.GroupID) {
			writeError(w, http.StatusForbidden, "GROUP_FORBIDDEN", "Group not available to this caller", map[string]any{"groupId": body.GroupID})
			return
		}
		if err := s.service.FocusGroup(r.Context(), body.GroupID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"focusedGroup": body.GroupID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/realtime" {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		msg, err := realtime.DecodeMessage(data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", err.Error(), nil)
			return
		}
		s.service.ReceiveMessage(msg)
		writeJSON(w, http.StatusAccepted, s.service.Pending())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/anchoring" {
		var body map[string]string
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReportAnchoring(body); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"scheduled": len(body)})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/viewport" {
		var body ViewportInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Viewport(body))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		values := r.URL.Query()
		limit, _ := strconv.Atoi(values.Get("limit"))
		offset, _ := strconv.Atoi(values.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(search.Query{
			Text:   values.Get("q"),
			Group:  values.Get("group"),
			Limit:  limit,
			Offset: offset,
		}))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// authenticate resolves the bearer token when authentication is enabled.
// With it disabled every request is accepted with empty claims.
func (s *HTTPServer) authenticate(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	if len(s.tokenSecret) == 0 {
		return auth.Claims{}, true
	}
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, false
	}
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		code := "UNAUTHORIZED"
		if errors.Is(err, auth.ErrExpiredToken) {
			code = "TOKEN_EXPIRED"
		}
		writeError(w, http.StatusUnauthorized, code, "Unauthorized", nil)
		return auth.Claims{}, false
	}
	return claims, true
}

// attribute stamps the authenticated caller onto an annotation it writes.
func attribute(annotation *store.Annotation, caller auth.Claims) {
	if caller.Subject == "" {
		return
	}
	annotation.User = caller.Subject
	if annotation.UserDisplayName == "" {
		annotation.UserDisplayName = caller.Name
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: %v", err)
	}
	writeError(w, status, code, message, details)
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
