package runtime

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/loqalabs/loqa-quiz/internal/engine"
	"github.com/loqalabs/loqa-quiz/internal/eventstore"
	"github.com/loqalabs/loqa-quiz/internal/protocol"
	"github.com/loqalabs/loqa-quiz/internal/render"
)

const maxBodyBytes = 64 << 10

// API serves the quiz over HTTP.
type API struct {
	engine   *engine.Engine
	renderer render.Renderer
	logger   *slog.Logger
}

func NewAPI(eng *engine.Engine, logger *slog.Logger) *API {
	return &API{
		engine:   eng,
		renderer: render.Default(),
		logger:   logger.With(slog.String("component", "http-api")),
	}
}

// Register mounts the quiz routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/quiz", a.handleState)
	mux.HandleFunc("POST /v1/quiz/start", a.command(protocol.CommandStart))
	mux.HandleFunc("POST /v1/quiz/navigate", a.command(protocol.CommandNavigate))
	mux.HandleFunc("POST /v1/quiz/answer", a.command(protocol.CommandAnswer))
	mux.HandleFunc("POST /v1/quiz/submit", a.command(protocol.CommandSubmit))
	mux.HandleFunc("POST /v1/quiz/review/dismiss", a.command(protocol.CommandDismissScore))
	mux.HandleFunc("POST /v1/quiz/restart", a.command(protocol.CommandRestart))
	mux.HandleFunc("POST /v1/quiz/narration", a.command(protocol.CommandNarrate))
	mux.HandleFunc("DELETE /v1/quiz/narration", a.command(protocol.CommandStopNarration))
	mux.HandleFunc("GET /v1/quiz/events", a.handleEvents)
	mux.HandleFunc("GET /v1/quiz/attempts", a.handleAttempts)
	mux.HandleFunc("GET /v1/quiz/attempts/{id}", a.handleAttempt)
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	snap := a.engine.Snapshot()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, a.renderer.Text(snap.Quiz, snap.Narration))
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *API) command(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			a.writeError(w, &protocol.BadRequest{Err: err})
			return
		}
		snap, err := a.engine.Command(r.Context(), name, body)
		if err != nil {
			a.writeError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, snap)
	}
}

type eventsResponse struct {
	Attempt string             `json:"attempt"`
	Events  []eventstore.Event `json:"events"`
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	attempt, events, err := a.engine.Timeline(r.Context(), r.URL.Query().Get("attempt"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	a.writeJSON(w, http.StatusOK, eventsResponse{Attempt: attempt, Events: events})
}

type attemptsResponse struct {
	Attempts []eventstore.Attempt `json:"attempts"`
}

func (a *API) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, &protocol.BadRequest{Err: strconv.ErrSyntax})
			return
		}
		limit = n
	}
	attempts, err := a.engine.Attempts(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []eventstore.Attempt{}
	}
	a.writeJSON(w, http.StatusOK, attemptsResponse{Attempts: attempts})
}

func (a *API) handleAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := a.engine.Attempt(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, attempt)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	body, status := protocol.Classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slogError(err))
	}
	a.writeJSON(w, status, protocol.Reply{Error: &body})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
