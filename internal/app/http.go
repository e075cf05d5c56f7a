package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roadmap/api/internal/roadmap"
	"roadmap/api/internal/search"
	"roadmap/api/internal/store"
	"roadmap/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	apiToken   string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, apiToken: service.cfg.APIToken}
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
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		dbErr := s.service.Ping(ctx)
		checks := map[string]any{"database": readinessCheck(dbErr)}
		if dbErr != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		}
		// The cache is optional; losing it only slows reads down.
		if enabled, cacheErr := s.service.PingCache(ctx); enabled {
			checks["cache"] = readinessCheck(cacheErr)
			if cacheErr != nil && dbErr == nil {
				status = "degraded"
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     statusCode == http.StatusOK,
			"status": status,
			"checks": checks,
		})
		return
	}

	if !s.authorize(w, r) {
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "search" && r.Method == http.MethodGet {
		s.handleSearch(w, r)
		return
	}

	if len(parts) == 2 && parts[0] == "api" && parts[1] == "roadmaps" {
		s.handleRoadmapCollection(w, r)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "roadmaps" {
		roadmapID := parts[2]
		if !util.IsUUID(roadmapID) {
			writeError(w, http.StatusBadRequest, "INVALID_UUID", "Invalid roadmap ID format", nil)
			return
		}
		switch {
		case len(parts) == 3:
			s.handleRoadmap(w, r, roadmapID)
			return
		case len(parts) == 4 && parts[3] == "items":
			s.handleItemCollection(w, r, roadmapID)
			return
		case len(parts) >= 5 && parts[3] == "items":
			itemID := parts[4]
			if !util.IsUUID(itemID) {
				writeError(w, http.StatusBadRequest, "INVALID_UUID", "Invalid item ID format", nil)
				return
			}
			if len(parts) == 5 {
				s.handleItem(w, r, roadmapID, itemID)
				return
			}
			if len(parts) == 6 && parts[5] == "swap" {
				s.handleSwap(w, r, roadmapID, itemID)
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRoadmapCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		limit, offset, ok := pageParams(w, r)
		if !ok {
			return
		}
		page, err := s.service.ListRoadmaps(r.Context(), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if r.Method == http.MethodPost {
		var body roadmap.RoadmapInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateRoadmap(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleRoadmap(w http.ResponseWriter, r *http.Request, roadmapID string) {
	switch r.Method {
	case http.MethodGet:
		details, err := s.service.GetRoadmap(r.Context(), roadmapID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, details)
	case http.MethodPatch:
		var body roadmap.RoadmapPatch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateRoadmap(r.Context(), roadmapID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.service.DeleteRoadmap(r.Context(), roadmapID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleItemCollection(w http.ResponseWriter, r *http.Request, roadmapID string) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListItems(r.Context(), roadmapID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	if r.Method == http.MethodPost {
		var body roadmap.CreateItemInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateItem(r.Context(), roadmapID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleItem(w http.ResponseWriter, r *http.Request, roadmapID, itemID string) {
	switch r.Method {
	case http.MethodPatch:
		var body roadmap.UpdateItemInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateItem(r.Context(), roadmapID, itemID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodPut:
		var body roadmap.CompletionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		changed, err := s.service.SetCompletion(r.Context(), roadmapID, itemID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, changed)
	case http.MethodDelete:
		if err := s.service.DeleteItem(r.Context(), roadmapID, itemID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSwap(w http.ResponseWriter, r *http.Request, roadmapID, itemID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		With string `json:"with"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	swapped, err := s.service.SwapPositions(r.Context(), roadmapID, itemID, strings.TrimSpace(body.With))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swapped)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	roadmapID := strings.TrimSpace(query.Get("roadmapId"))
	if roadmapID != "" && !util.IsUUID(roadmapID) {
		writeError(w, http.StatusBadRequest, "INVALID_UUID", "Invalid roadmap ID format", nil)
		return
	}
	resp, err := s.service.Search(r.Context(), search.Query{
		Text:            query.Get("q"),
		FilterType:      search.ResultType(strings.TrimSpace(query.Get("type"))),
		FilterRoadmapID: roadmapID,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorize enforces the optional shared bearer token.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.apiToken == "" {
		return true
	}
	token := bearerToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization token required", nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s error: %v", r.Method, r.URL.Path, err)
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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) {
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

// pageParams reads limit and offset. Absent values are zero and get the
// service defaults.
func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	query := r.URL.Query()
	for _, param := range []struct {
		name   string
		target *int
	}{
		{"limit", &limit},
		{"offset", &offset},
	} {
		raw := strings.TrimSpace(query.Get(param.name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", param.name+" must be a non-negative integer", nil)
			return 0, 0, false
		}
		*param.target = value
	}
	return limit, offset, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrParentMissing) || store.IsForeignKeyViolation(err) {
		return http.StatusNotFound, "NOT_FOUND", "Parent item not found", nil
	}
	if errors.Is(err, store.ErrNotSiblings) {
		return http.StatusUnprocessableEntity, "NOT_SIBLINGS", "Items must share a parent", nil
	}
	if store.IsInvalidInput(err) {
		return http.StatusBadRequest, "INVALID_UUID", "Invalid ID format", nil
	}
	if store.IsCheckViolation(err) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Value violates a constraint", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func readinessCheck(err error) map[string]any {
	if err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return map[string]any{"status": "ok"}
}
