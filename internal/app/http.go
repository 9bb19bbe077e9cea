package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"doorbell/api/internal/auth"
)

type HTTPServer struct {
	service     *Service
	corsOrigins []string
}

func NewHTTPServer(service *Service, corsOrigins []string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigins: corsOrigins}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	// Unauthenticated probe; echoes the method like the mobile client expects.
	if r.URL.Path == "/healthCheck" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"data": "GET method"})
		case http.MethodPost:
			writeJSON(w, http.StatusOK, map[string]any{"data": "POST method"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"data": "default method"})
		}
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/readyCheck" {
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

	switch r.URL.Path {
	case "/applyAsGateKeeper":
		s.handleApplyAsGateKeeper(w, r)
	case "/getGateKeeperDetailsById":
		s.handleGateKeeperDetails(w, r)
	case "/visit":
		s.handleVisit(w, r)
	case "/answerVisit":
		s.handleAnswerVisit(w, r)
	case "/adminLogin":
		s.handleAdminLogin(w, r)
	case "/adminLogout":
		s.handleAdminLogout(w, r)
	case "/getAllGateKeepers":
		s.handleGetAllGateKeepers(w, r)
	case "/changeGateKeeperStatus":
		s.handleChangeGateKeeperStatus(w, r)
	case "/getVisits":
		s.handleGetVisits(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleApplyAsGateKeeper(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.requireAPIKey(w, r, "Request not allowed") {
		return
	}

	var body struct {
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		DeviceToken string `json:"deviceToken"`
		// The first mobile client sent the FCM token under "token".
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	deviceToken := body.DeviceToken
	if deviceToken == "" {
		deviceToken = body.Token
	}

	id, err := s.service.RegisterGateKeeper(r.Context(), body.FirstName, body.LastName, deviceToken)
	if err != nil {
		s.writeMappedError(w, err, "Failed to add gatekeeper")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *HTTPServer) handleGateKeeperDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.requireAPIKey(w, r, "Request not allowed") {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing id", nil)
		return
	}

	gk, err := s.service.GateKeeperByID(r.Context(), id)
	if err != nil {
		s.writeMappedError(w, err, "Failed to get gatekeeper details")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": gk})
}

func (s *HTTPServer) handleVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.requireAPIKey(w, r, "Request not authenticated") {
		return
	}

	id, err := s.service.RingBell(r.Context())
	if err != nil {
		s.writeMappedError(w, err, "Failed to add visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *HTTPServer) handleAnswerVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !s.requireAPIKey(w, r, "Request not allowed") {
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	visit, err := s.service.AnswerVisit(r.Context(), body.ID)
	if err != nil {
		s.writeMappedError(w, err, "Failed to answer visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": visit})
}

func (s *HTTPServer) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var body struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.AdminLogin(r.Context(), body.PIN)
	if err != nil {
		s.writeMappedError(w, err, "Failed to create admin session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     session.Token,
		"expiresAt": session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	token := adminToken(r)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		_ = decodeBody(r, &body)
		token = body.Token
	}
	_ = s.service.AdminLogout(r.Context(), token)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleGetAllGateKeepers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var body struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if !s.requireAdmin(w, r, body.PIN) {
		return
	}

	items, err := s.service.ListGateKeepers(r.Context())
	if err != nil {
		s.writeMappedError(w, err, "Failed to list gatekeepers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

func (s *HTTPServer) handleChangeGateKeeperStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var body struct {
		PIN       string `json:"pin"`
		ID        string `json:"id"`
		NewStatus string `json:"newStatus"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if !s.requireAdmin(w, r, body.PIN) {
		return
	}

	if err := s.service.SetGateKeeperStatus(r.Context(), body.ID, body.NewStatus); err != nil {
		s.writeMappedError(w, err, "Failed to change gatekeeper status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleGetVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var body struct {
		PIN   string `json:"pin"`
		Limit int    `json:"limit"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if !s.requireAdmin(w, r, body.PIN) {
		return
	}

	items, err := s.service.RecentVisits(r.Context(), body.Limit)
	if err != nil {
		s.writeMappedError(w, err, "Failed to list visits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": items})
}

// requireAPIKey short-circuits with 401 before any other component is reached.
// The error message varies by endpoint to match the original client contract.
func (s *HTTPServer) requireAPIKey(w http.ResponseWriter, r *http.Request, message string) bool {
	if !s.service.CheckAPIKey(r.Header.Get("x-api-key")) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
		return false
	}
	return true
}

// requireAdmin accepts either a valid admin session token or the PIN itself.
// This is a separate trust tier from the API key on purpose.
func (s *HTTPServer) requireAdmin(w http.ResponseWriter, r *http.Request, pin string) bool {
	if token := adminToken(r); token != "" {
		if err := s.service.CheckAdminToken(r.Context(), token); err == nil {
			return true
		}
	}
	if s.service.CheckAdminPIN(pin) {
		return true
	}
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Request not allowed", nil)
	return false
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error, fallback string) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
		message = fallback
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
		setCORSHeaders(writer.Header(), r.Header.Get("Origin"), s.corsOrigins)
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

// setCORSHeaders echoes the origin only when it is on the allow-list; credentials
// are allowed, so a wildcard is never used.
func setCORSHeaders(header http.Header, origin string, allowed []string) {
	for _, candidate := range allowed {
		if candidate == origin {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			break
		}
	}
	header.Add("Vary", "Origin")
	header.Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, x-admin-token, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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

func adminToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("x-admin-token"))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
