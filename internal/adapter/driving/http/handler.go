package httphandler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/port/driven"
)

// screenshotDir is the data-dir subdirectory the screenshot route serves.
const screenshotDir = "screenshots"

// runHistoryLimit caps the runs returned for one account.
const runHistoryLimit = 50

// RunTrigger starts manual runs and reports runs in flight.
type RunTrigger interface {
	Trigger(ctx context.Context, accountID int64) bool
	Running(accountID int64) bool
}

// Pinger checks that the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	accounts driven.AccountStore
	runs     driven.RunStore
	trigger  RunTrigger
	db       Pinger
	dataDir  string
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	accounts driven.AccountStore,
	runs driven.RunStore,
	trigger RunTrigger,
	db Pinger,
	dataDir string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts: accounts,
		runs:     runs,
		trigger:  trigger,
		db:       db,
		dataDir:  dataDir,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with auth, logging and recovery middleware. A zero BasicAuth leaves the API
// open.
func NewServeMux(h *Handler, logger *slog.Logger, auth BasicAuth) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /api/v1/accounts", auth.wrap(http.HandlerFunc(h.ListAccounts)))
	mux.Handle("GET /api/v1/accounts/{id}", auth.wrap(http.HandlerFunc(h.GetAccount)))
	mux.Handle("GET /api/v1/accounts/{id}/runs", auth.wrap(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/accounts/{id}/run", auth.wrap(http.HandlerFunc(h.TriggerRun)))
	mux.Handle("GET /api/v1/screenshots/{path...}", auth.wrap(http.HandlerFunc(h.ServeScreenshot)))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListAccounts returns every configured account.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a, h.trigger.Running(a.ID)))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAccount returns a single account by id.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(*account, h.trigger.Running(id)))
}

// ListRuns returns the latest runs of an account, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	runs, err := h.runs.ListByAccount(r.Context(), id, runHistoryLimit)
	if err != nil {
		h.logger.Error("failed to list runs", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// TriggerRun starts a manual run in the background. It answers 202 when the
// run was started and 409 when the account is disabled or already running.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get account", "account_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if !account.Enabled {
		writeError(w, http.StatusConflict, "account is disabled")
		return
	}

	if !h.trigger.Trigger(r.Context(), id) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	h.logger.Info("manual run accepted", "account_id", id)
	writeJSON(w, http.StatusAccepted, TriggerResponse{AccountID: id, Status: "accepted"})
}

// ServeScreenshot serves a file below {data_dir}/screenshots. Paths that
// escape that directory are rejected.
func (h *Handler) ServeScreenshot(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if !fs.ValidPath(rel) || rel == "." {
		writeError(w, http.StatusBadRequest, "invalid screenshot path")
		return
	}

	root := filepath.Join(h.dataDir, screenshotDir)
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		writeError(w, http.StatusNotFound, "screenshot not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to stat screenshot", "path", rel, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.ServeFileFS(w, r, os.DirFS(root), rel)
}

// Health reports whether the service and its database are up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health check: database unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Database: "unavailable", Time: now})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "ok", Time: now})
}

// accountID parses the {id} path value, writing a 400 when it is not a
// positive integer.
func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}
