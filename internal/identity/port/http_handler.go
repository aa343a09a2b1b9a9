package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	apiv1 "github.com/deliberation-platform/identity/api/v1"
	"github.com/deliberation-platform/identity/internal/domain"
	"github.com/deliberation-platform/identity/internal/errmap"
	"github.com/deliberation-platform/identity/internal/identity/app"
	"github.com/deliberation-platform/identity/internal/observability"
)

// maxBodyBytes bounds request bodies; proofs are the largest payload.
const maxBodyBytes = 64 << 10

// authService is a narrow, consumer-defined interface for the auth service
// operations the handler requires. The *app.AuthService satisfies this.
type authService interface {
	GetDeviceStatus(ctx context.Context, didWrite string) (*app.DeviceStatus, error)
	AuthenticateAttempt(ctx context.Context, req app.AuthenticateRequest) (*app.AuthenticateResult, error)
	VerifyPhoneOTP(ctx context.Context, req app.VerifyOTPRequest) (*app.VerifyResult, error)
	VerifyZKPProof(ctx context.Context, req app.VerifyZKPRequest) (*app.VerifyResult, error)
	Logout(ctx context.Context, didWrite string) error
}

// ProofVerifier checks a zero-knowledge citizenship proof and returns its
// public outputs. Invalid proofs must wrap domain.ErrInvalidInput.
type ProofVerifier interface {
	VerifyProof(ctx context.Context, proof json.RawMessage) (app.ZKPProof, error)
}

// HandlerConfig holds the collaborators of the HTTP handler. Replay,
// Limiter and Proofs are optional.
type HandlerConfig struct {
	Verifier       TokenVerifier
	Replay         ReplayGuard
	Limiter        RateLimiter
	Proofs         ProofVerifier
	AllowedOrigins []string
	RequestTimeout time.Duration
	Clock          domain.Clock
	Logger         *slog.Logger
}

// AuthHandler serves the device authentication API.
type AuthHandler struct {
	svc            authService
	verifier       TokenVerifier
	replay         ReplayGuard
	limiter        RateLimiter
	proofs         ProofVerifier
	allowedOrigins []string
	requestTimeout time.Duration
	clock          domain.Clock
	logger         *slog.Logger
}

// NewAuthHandler creates an AuthHandler backed by the given AuthService.
func NewAuthHandler(svc *app.AuthService, cfg HandlerConfig) *AuthHandler {
	return newAuthHandler(svc, cfg)
}

func newAuthHandler(svc authService, cfg HandlerConfig) *AuthHandler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = domain.RequestTimeout
	}
	if cfg.Proofs == nil {
		cfg.Logger.Info("zkp proof verifier not configured, /api/v1/auth/zkp/verify disabled")
	}
	return &AuthHandler{
		svc:            svc,
		verifier:       cfg.Verifier,
		replay:         cfg.Replay,
		limiter:        cfg.Limiter,
		proofs:         cfg.Proofs,
		allowedOrigins: cfg.AllowedOrigins,
		requestTimeout: timeout,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}
}

// Routes returns the router for the /api/v1/auth endpoints and the
// OpenAPI document.
func (h *AuthHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))
	if len(h.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/api/v1/openapi.json", serveSpec)

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(h.requireDevice)

		r.Get("/device-status", h.getDeviceStatus)
		r.With(h.limitByClientIP).Post("/authenticate", h.authenticate)
		r.Post("/phone/verify-otp", h.verifyPhoneOTP)
		if h.proofs != nil {
			r.Post("/zkp/verify", h.verifyZKPProof)
		}
		r.Post("/logout", h.logout)
	})

	return r
}

type deviceStatusResponse struct {
	Registered    bool       `json:"registered"`
	AccountID     string     `json:"accountId,omitempty"`
	SessionExpiry *time.Time `json:"sessionExpiry,omitempty"`
	IsLoggedIn    bool       `json:"isLoggedIn"`
}

type authenticateRequest struct {
	PhoneNumber         string `json:"phoneNumber"`
	DefaultCallingCode  string `json:"defaultCallingCode"`
	IsRequestingNewCode bool   `json:"isRequestingNewCode"`
}

type authenticateResponse struct {
	Success             bool                 `json:"success"`
	Reason              domain.FailureReason `json:"reason,omitempty"`
	CodeExpiry          *time.Time           `json:"codeExpiry,omitempty"`
	NextCodeSoonestTime *time.Time           `json:"nextCodeSoonestTime,omitempty"`
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

type verifyZKPRequest struct {
	Proof json.RawMessage `json:"proof"`
}

type verifyResponse struct {
	Success   bool                 `json:"success"`
	Reason    domain.FailureReason `json:"reason,omitempty"`
	AccountID string               `json:"accountId,omitempty"`
	AuthType  domain.AuthType      `json:"authType,omitempty"`
}

func (h *AuthHandler) getDeviceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetDeviceStatus(r.Context(), DeviceFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if st == nil {
		writeJSON(w, http.StatusOK, deviceStatusResponse{})
		return
	}
	expiry := st.SessionExpiry
	writeJSON(w, http.StatusOK, deviceStatusResponse{
		Registered:    true,
		AccountID:     st.AccountID,
		SessionExpiry: &expiry,
		IsLoggedIn:    st.IsLoggedIn,
	})
}

func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.AuthenticateAttempt(r.Context(), app.AuthenticateRequest{
		DIDWrite:            DeviceFromContext(r.Context()),
		PhoneNumber:         req.PhoneNumber,
		DefaultCallingCode:  req.DefaultCallingCode,
		IsRequestingNewCode: req.IsRequestingNewCode,
		UserAgent:           r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := authenticateResponse{Success: res.Success, Reason: res.Reason}
	if res.Success {
		resp.CodeExpiry = timePtr(res.CodeExpiry)
		resp.NextCodeSoonestTime = timePtr(res.NextCodeSoonestTime)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) verifyPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.VerifyPhoneOTP(r.Context(), app.VerifyOTPRequest{
		DIDWrite: DeviceFromContext(r.Context()),
		Code:     req.Code,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(res))
}

func (h *AuthHandler) verifyZKPProof(w http.ResponseWriter, r *http.Request) {
	var req verifyZKPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.Proof) == 0 {
		h.writeError(w, r, fmt.Errorf("proof is required: %w", domain.ErrInvalidInput))
		return
	}

	proof, err := h.proofs.VerifyProof(r.Context(), req.Proof)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.VerifyZKPProof(r.Context(), app.VerifyZKPRequest{
		DIDWrite:  DeviceFromContext(r.Context()),
		UserAgent: r.UserAgent(),
		Proof:     proof,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(res))
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), DeviceFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func serveSpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(apiv1.Spec)
}

func toVerifyResponse(res *app.VerifyResult) verifyResponse {
	return verifyResponse{
		Success:   res.Success,
		Reason:    res.Reason,
		AccountID: res.AccountID,
		AuthType:  res.AuthType,
	}
}

// writeError maps err through errmap and logs it. Faults the client cannot
// fix are logged at error level.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := errmap.ToHTTPError(err)
	logger := observability.WithTraceID(r.Context(), h.logger)
	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", httpErr.StatusCode),
		slog.String("error", err.Error()),
	}
	if httpErr.StatusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		logger.InfoContext(r.Context(), "request rejected", attrs...)
	}
	writeJSON(w, httpErr.StatusCode, httpErr)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes: %w", tooLarge.Limit, domain.ErrInvalidInput)
		}
		return fmt.Errorf("malformed request body: %w", domain.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
