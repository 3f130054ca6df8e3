package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlibekovAA/refresh-guard/internal/auth/service"
	"github.com/AlibekovAA/refresh-guard/internal/common/config"
	"github.com/AlibekovAA/refresh-guard/internal/common/constants"
	commonhttp "github.com/AlibekovAA/refresh-guard/internal/common/http"
	"github.com/AlibekovAA/refresh-guard/internal/common/jwtverify"
	"github.com/AlibekovAA/refresh-guard/internal/common/logger"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User    userdomain.Summary `json:"user"`
	Message string             `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type logoutAllResponse struct {
	Message string `json:"message"`
	Revoked int    `json:"revoked"`
}

type protectedResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type revokeSessionRequest struct {
	TokenID string `json:"tokenId"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

type Config struct {
	Cookie         config.CookieConfig
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	RequestTimeout time.Duration
	RateLimiter    *commonhttp.PathRateLimiter
	AdminToken     string
}

// AdminTokenHeader carries the operator token for /admin routes.
const AdminTokenHeader = "X-Admin-Token"

type Handler struct {
	auth       *service.AuthService
	cookies    cookieWriter
	adminToken string
	log        *logger.Logger
}

func NewHandler(auth *service.AuthService, cfg Config, log *logger.Logger) http.Handler {
	h := &Handler{
		auth: auth,
		cookies: cookieWriter{
			cfg:        cfg.Cookie,
			accessTTL:  cfg.AccessTTL,
			refreshTTL: cfg.RefreshTTL,
		},
		adminToken: cfg.AdminToken,
		log:        log,
	}

	post := commonhttp.RequireMethod(http.MethodPost)
	get := commonhttp.RequireMethod(http.MethodGet)
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = constants.DefaultAuthRequestTimeout
	}
	timeout := commonhttp.WithTimeout(requestTimeout)
	requireAccess := jwtverify.Middleware(auth, log)
	protect := func(next http.HandlerFunc) http.HandlerFunc {
		return requireAccess(next).ServeHTTP
	}

	route := func(path string, handler http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return handler
		}
		return cfg.RateLimiter.MiddlewareForPath(path)(handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", commonhttp.HealthHandler(log))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", get(h.status))
	mux.Handle("/auth/login", route("/auth/login", post(timeout(h.login))))
	mux.Handle("/auth/refresh", route("/auth/refresh", post(timeout(h.refresh))))
	mux.Handle("/auth/logout", route("/auth/logout", post(timeout(h.logout))))
	mux.Handle("/auth/logout-all", route("/auth/logout-all", post(timeout(protect(h.logoutAll)))))
	mux.Handle("/protected", route("/protected", get(protect(h.protected))))
	if h.adminToken != "" {
		mux.Handle("/admin/sessions/revoke", route("/admin/sessions/revoke", post(timeout(h.requireAdmin(h.revokeSession)))))
	}
	return mux
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.WithFields(r.Context(), logger.Fields{
			"action": "login_invalid_json",
		}).Warnf("login failed: invalid json: %v", err)
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	result, err := h.auth.Login(r.Context(), service.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
		SourceIP:  commonhttp.GetClientIP(r),
	})
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	h.cookies.setPair(w, result.Pair)
	commonhttp.WriteJSON(w, http.StatusOK, loginResponse{User: result.User, Message: "Login successful"})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingRefreshToken, "missing refresh token", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	pair, err := h.auth.Refresh(r.Context(), service.RefreshInput{
		RefreshToken: cookie.Value,
		UserAgent:    r.UserAgent(),
		SourceIP:     commonhttp.GetClientIP(r),
	})
	if err != nil {
		if errors.Is(err, service.ErrTokenReuseDetected) {
			h.cookies.clear(w)
		}
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	h.cookies.setPair(w, pair)
	commonhttp.WriteJSON(w, http.StatusOK, messageResponse{Message: "Token refreshed"})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		h.auth.Logout(r.Context(), cookie.Value)
	}

	h.cookies.clear(w)
	commonhttp.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "access token required", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	revoked, err := h.auth.LogoutAll(r.Context(), userdomain.ID(claims.UserID))
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	h.cookies.clear(w)
	commonhttp.WriteJSON(w, http.StatusOK, logoutAllResponse{Message: "All sessions revoked", Revoked: revoked})
}

func (h *Handler) protected(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "access token required", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, protectedResponse{Message: "Access granted", UserID: claims.UserID})
}

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.adminToken)) != 1 {
			h.log.WithFields(r.Context(), logger.Fields{
				"ip":     commonhttp.GetClientIP(r),
				"action": "admin_unauthorized",
			}).Warn("admin request rejected")
			commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "admin token required", nil, commonhttp.TraceIDFromContext(r.Context()))
			return
		}
		next(w, r)
	}
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	var req revokeSessionRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}
	if req.TokenID == "" {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeMissingTokenID, "tokenId is required", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	if err := h.auth.RevokeSession(r.Context(), req.TokenID); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, messageResponse{Message: "Session revoked"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	commonhttp.WriteJSON(w, http.StatusOK, statusResponse{
		Status:    "ok",
		Service:   "refresh-guard",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
