package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/devghori1264/agrox/internal/auth"
	"github.com/devghori1264/agrox/internal/ledger"
	"github.com/devghori1264/agrox/internal/models"
	"github.com/devghori1264/agrox/internal/server"
	"github.com/devghori1264/agrox/internal/storage"
	"go.uber.org/zap"
)

type Handler struct {
	srv        *server.Server
	issuer     *auth.Issuer
	allowIssue bool
	log        *zap.Logger
}

type Options struct {
	// AllowIssue exposes POST /token, which signs a token for any identity.
	// Only meant for local development.
	AllowIssue bool
	Logger     *zap.Logger
}

func NewHTTPHandler(srv *server.Server, issuer *auth.Issuer, opts Options) http.Handler {
	h := &Handler{
		srv:        srv,
		issuer:     issuer,
		allowIssue: opts.AllowIssue,
		log:        opts.Logger,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.HandleFunc("POST /token", h.handleToken)
	mux.HandleFunc("GET /registry", h.handleRegistry)
	mux.HandleFunc("GET /machines/{machine_id}", h.handleGetMachine)
	mux.HandleFunc("GET /machines/{machine_id}/readings", h.handleListReadings)
	mux.HandleFunc("GET /readings/{id}", h.handleGetReading)

	mux.HandleFunc("POST /initialize", h.withCaller(h.handleInitialize))
	mux.HandleFunc("POST /machines", h.withCaller(h.handleRegister))
	mux.HandleFunc("POST /machines/{machine_id}/start", h.withCaller(h.handleStart))
	mux.HandleFunc("POST /machines/{machine_id}/stop", h.withCaller(h.handleStop))
	mux.HandleFunc("POST /machines/{machine_id}/data", h.withCaller(h.handleUpload))
	mux.HandleFunc("POST /machines/{machine_id}/claim", h.withCaller(h.handleClaim))
	mux.HandleFunc("POST /readings/{id}/use", h.withCaller(h.handleUse))

	return mux
}

type callerHandler func(w http.ResponseWriter, r *http.Request, caller models.Identity)

// withCaller resolves the bearer token into a caller identity.
func (h *Handler) withCaller(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		caller, err := h.issuer.Verify(tok)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, auth.ErrInvalidToken.Error())
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), caller)), caller)
	}
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from agrox http"})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if !h.allowIssue {
		h.writeError(w, http.StatusNotFound, "token issuance disabled")
		return
	}
	var req struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
		h.writeError(w, http.StatusBadRequest, "identity required")
		return
	}
	tok, err := h.issuer.Issue(models.Identity(req.Identity))
	if err != nil {
		h.log.Error("issue token", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (h *Handler) handleRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := h.srv.Registry(r.Context())
	h.respond(w, "registry", reg, err)
}

func (h *Handler) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := h.srv.Machine(r.Context(), r.PathValue("machine_id"))
	h.respond(w, "get machine", m, err)
}

func (h *Handler) handleListReadings(w http.ResponseWriter, r *http.Request) {
	readings, err := h.srv.Readings(r.Context(), r.PathValue("machine_id"))
	if readings == nil {
		readings = []*models.ReadingRecord{}
	}
	h.respond(w, "list readings", map[string]any{"readings": readings}, err)
}

func (h *Handler) handleGetReading(w http.ResponseWriter, r *http.Request) {
	reading, err := h.srv.Reading(r.Context(), r.PathValue("id"))
	h.respond(w, "get reading", reading, err)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	reg, err := h.srv.Initialize(r.Context(), caller)
	h.respond(w, "initialize", reg, err)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	var req struct {
		MachineID string `json:"machine_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	m, err := h.srv.RegisterMachine(r.Context(), caller, req.MachineID)
	h.respondStatus(w, "register", http.StatusCreated, m, err)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	m, err := h.srv.StartMachine(r.Context(), caller, r.PathValue("machine_id"))
	h.respond(w, "start", m, err)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	m, err := h.srv.StopMachine(r.Context(), caller, r.PathValue("machine_id"))
	h.respond(w, "stop", m, err)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	var req struct {
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
		ImageURL    *string  `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Temperature == nil || req.Humidity == nil {
		h.writeError(w, http.StatusBadRequest, "temperature and humidity required")
		return
	}
	reading, err := h.srv.UploadData(r.Context(), caller, r.PathValue("machine_id"), *req.Temperature, *req.Humidity, req.ImageURL)
	h.respondStatus(w, "upload", http.StatusCreated, reading, err)
}

func (h *Handler) handleUse(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	reading, err := h.srv.UseData(r.Context(), caller, r.PathValue("id"))
	h.respond(w, "use", reading, err)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request, caller models.Identity) {
	amount, err := h.srv.ClaimRewards(r.Context(), caller, r.PathValue("machine_id"))
	h.respond(w, "claim", map[string]uint64{"claimed": amount}, err)
}

func (h *Handler) respond(w http.ResponseWriter, op string, v any, err error) {
	h.respondStatus(w, op, http.StatusOK, v, err)
}

func (h *Handler) respondStatus(w http.ResponseWriter, op string, status int, v any, err error) {
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.log.Error("internal error", zap.String("op", op), zap.Error(err))
			h.writeError(w, code, "failed to "+op)
			return
		}
		h.writeError(w, code, err.Error())
		return
	}
	writeJSON(w, status, v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrMachineIDAlreadyExists), errors.Is(err, storage.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrMachineNotActive), errors.Is(err, ledger.ErrNoRewardsAvailable),
		errors.Is(err, storage.ErrNotInitialized), errors.Is(err, ledger.ErrRewardOverflow):
		return http.StatusPreconditionFailed
	case ledger.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.log.Debug("http error", zap.Int("status", status), zap.String("msg", msg))
}
