// Package api exposes the HTTP surface: telephony webhooks, the
// authenticated watchdog trigger, the bearer-authed management API, and
// the MCP server for firm-side assistants.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/intakeline/intakeline/internal/finalize"
	"github.com/intakeline/intakeline/internal/session"
	"github.com/intakeline/intakeline/internal/storage"
	"github.com/intakeline/intakeline/internal/turn"
	"github.com/intakeline/intakeline/internal/watchdog"
)

// TurnProcessor drives one conversational turn.
type TurnProcessor interface {
	Process(ctx context.Context, cs *session.CallSession, callerUtterance string) turn.Result
}

// CallFinalizer runs the post-call pipeline.
type CallFinalizer interface {
	Finalize(ctx context.Context, in finalize.Input) error
}

// Sweeper runs one watchdog sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (watchdog.Result, error)
}

// SpeechWarmer pre-generates speech for an utterance without blocking.
type SpeechWarmer interface {
	Warm(callID string, turn int, text string)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store     *storage.Store
	Sessions  *session.Store
	Turns     TurnProcessor
	Finalizer CallFinalizer
	Watchdog  Sweeper
	Speech    SpeechWarmer // optional; nil disables pre-generation

	Token          string // bearer token for the management API
	WatchdogSecret string // shared secret for /watchdog/run
	TelephonyToken string // provider auth token for webhook signatures
	PublicURL      string // externally reachable base URL

	Logger *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler builds the full router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/voice", handleVoice(deps))
		r.Post("/status", handleStatus(deps))
		r.Post("/agent-events", handleAgentEvents(deps))
	})

	r.Post("/watchdog/run", handleWatchdogRun(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/calls", handleListCalls(deps))
		r.Get("/calls/{id}", handleGetCall(deps))
		r.Delete("/calls/{id}", handleDeleteCall(deps))
		r.Get("/firms", handleListFirms(deps))
		r.Get("/firms/{id}", handleGetFirm(deps))
		r.Put("/firms/{id}", handlePutFirm(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := deps.Store.CountCalls()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "store unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"calls":           count,
			"active_sessions": deps.Sessions.Len(),
		})
	}
}

func handleWatchdogRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sharedSecretOK(deps.WatchdogSecret, r) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing watchdog secret")
			return
		}
		res, err := deps.Watchdog.Sweep(r.Context())
		if err != nil {
			deps.logger().Error("watchdog sweep failed", "error", err,
				"retriggered", res.Retriggered, "failed", res.Failed)
			httpError(w, http.StatusInternalServerError, "api_error", "sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
