package httphandler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/mt2fa/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// AccountResponse is the JSON representation of an account. Credentials are
// never part of it.
type AccountResponse struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	LoginURL           string  `json:"login_url"`
	TargetURL          string  `json:"target_url"`
	Username           string  `json:"username"`
	UsernameSelector   string  `json:"username_selector"`
	PasswordSelector   string  `json:"password_selector"`
	SubmitSelector     string  `json:"submit_selector"`
	OTPSelector        string  `json:"otp_selector"`
	OTPSubmitSelector  string  `json:"otp_submit_selector"`
	LoggedInSelector   string  `json:"logged_in_selector"`
	Enabled            bool    `json:"enabled"`
	IntervalMinutes    int     `json:"interval_minutes"`
	StartJitterSeconds int     `json:"start_jitter_seconds"`
	UserAgent          string  `json:"user_agent"`
	TimezoneID         string  `json:"timezone_id"`
	NavTimeoutMS       int     `json:"nav_timeout_ms"`
	Headless           bool    `json:"headless"`
	LastRunAt          *string `json:"last_run_at"`
	NextRunAt          *string `json:"next_run_at"`
	LastStatus         string  `json:"last_status"`
	LastMessage        string  `json:"last_message"`
	Running            bool    `json:"running"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// RunResponse is the JSON representation of a login run.
type RunResponse struct {
	ID                  int64   `json:"id"`
	AccountID           int64   `json:"account_id"`
	AttemptID           string  `json:"attempt_id"`
	Trigger             string  `json:"trigger"`
	StartedAt           string  `json:"started_at"`
	FinishedAt          *string `json:"finished_at"`
	Running             bool    `json:"running"`
	OK                  bool    `json:"ok"`
	Message             string  `json:"message"`
	FinalURL            string  `json:"final_url"`
	StatePath           string  `json:"state_path"`
	ScreenshotPath      string  `json:"screenshot_path"`
	ErrorScreenshotPath string  `json:"error_screenshot_path"`
	ScreenshotURL       string  `json:"screenshot_url,omitempty"`
	ErrorScreenshotURL  string  `json:"error_screenshot_url,omitempty"`
}

// TriggerResponse is returned when a manual run was accepted.
type TriggerResponse struct {
	AccountID int64  `json:"account_id"`
	Status    string `json:"status"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

// toAccountResponse converts a domain Account to its JSON response representation.
func toAccountResponse(a model.Account, running bool) AccountResponse {
	return AccountResponse{
		ID:                 a.ID,
		Name:               a.Name,
		LoginURL:           a.LoginURL,
		TargetURL:          a.TargetURL,
		Username:           a.Username,
		UsernameSelector:   a.UsernameSelector,
		PasswordSelector:   a.PasswordSelector,
		SubmitSelector:     a.SubmitSelector,
		OTPSelector:        a.OTPSelector,
		OTPSubmitSelector:  a.OTPSubmitSelector,
		LoggedInSelector:   a.LoggedInSelector,
		Enabled:            a.Enabled,
		IntervalMinutes:    a.IntervalMinutes,
		StartJitterSeconds: a.StartJitterSeconds,
		UserAgent:          a.UserAgent,
		TimezoneID:         a.TimezoneID,
		NavTimeoutMS:       a.NavTimeoutMS,
		Headless:           a.Headless,
		LastRunAt:          formatOptional(a.LastRunAt),
		NextRunAt:          formatOptional(a.NextRunAt),
		LastStatus:         string(a.LastStatus),
		LastMessage:        a.LastMessage,
		Running:            running,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// toRunResponse converts a domain LoginRun to its JSON response representation.
func toRunResponse(run model.LoginRun) RunResponse {
	return RunResponse{
		ID:                  run.ID,
		AccountID:           run.AccountID,
		AttemptID:           run.AttemptID,
		Trigger:             string(run.Trigger),
		StartedAt:           run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:          formatOptional(run.FinishedAt),
		Running:             run.Running(),
		OK:                  run.OK,
		Message:             run.Message,
		FinalURL:            run.FinalURL,
		StatePath:           run.StatePath,
		ScreenshotPath:      run.ScreenshotPath,
		ErrorScreenshotPath: run.ErrorScreenshotPath,
		ScreenshotURL:       screenshotURL(run.ScreenshotPath),
		ErrorScreenshotURL:  screenshotURL(run.ErrorScreenshotPath),
	}
}

// screenshotURL maps a data-dir-relative screenshot path to the API route
// that serves it. Paths outside screenshots/ have no URL.
func screenshotURL(rel string) string {
	if !strings.HasPrefix(rel, screenshotDir+"/") {
		return ""
	}
	return "/api/v1/" + rel
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
