package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"CommissionEngine/api/constants"
	"CommissionEngine/internal/config"
	"CommissionEngine/internal/dashboard"
	"CommissionEngine/internal/engine"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/logger"
	"CommissionEngine/internal/logsink"
	"CommissionEngine/internal/resource"
	"CommissionEngine/internal/session"
	"CommissionEngine/internal/validation"

	"github.com/gorilla/mux"
)

// Runner executes commission runs.
type Runner interface {
	Window(rc engine.RunConfig) (engine.Window, error)
	Run(ctx context.Context, rc engine.RunConfig, onStep logsink.StepFunc) engine.Outcome
}

// Gateway exposes the engine and the staging lifecycle over HTTP.
type Gateway struct {
	runner    Runner
	store     ledger.Store
	sessions  *session.Manager
	progress  *dashboard.SSEServer
	resources *resource.ResourceManager
}

func NewGateway(runner Runner, store ledger.Store, sessions *session.Manager, progress *dashboard.SSEServer, resources *resource.ResourceManager) *Gateway {
	return &Gateway{
		runner:    runner,
		store:     store,
		sessions:  sessions,
		progress:  progress,
		resources: resources,
	}
}

func (g *Gateway) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(accessLog)

	router.HandleFunc("/commissions/run", g.RunHandler).Methods(http.MethodPost)
	router.HandleFunc("/commissions/runs/{run_id}/finalize", g.FinalizeHandler).Methods(http.MethodPost)
	router.HandleFunc("/commissions/runs/{run_id}/cancel", g.CancelHandler).Methods(http.MethodPost)
	router.HandleFunc("/commissions/runs/{run_id}/movements", g.MovementsHandler).Methods(http.MethodGet)
	router.HandleFunc("/commissions/sessions/{session_id}/heartbeat", g.HeartbeatHandler).Methods(http.MethodPost)
	router.HandleFunc("/commissions/progress", g.progress.HandleSSE).Methods(http.MethodGet)
	router.HandleFunc("/health", g.HealthHandler).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusNotFound, constants.ErrRouteNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, http.StatusMethodNotAllowed, constants.ErrMethodNotAllowed)
	})
	return router
}

func operatorOf(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(constants.HeaderOperatorID)
}

// RunHandler handles POST /commissions/run. The run holds its reference date until the operator
// finalizes or cancels it; progress is streamed on /commissions/progress?session_id=.
func (g *Gateway) RunHandler(w http.ResponseWriter, r *http.Request) {
	var rc engine.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidJSON)
		return
	}
	rc.OperatorID = operatorOf(r, rc.OperatorID)

	win, err := g.runner.Window(rc)
	if err != nil {
		// The engine renders the same rejection as its error document, without side effects.
		respondRaw(w, http.StatusBadRequest, g.runner.Run(r.Context(), rc, nil).Body)
		return
	}

	sess, err := g.sessions.CreateSession(session.Session{
		ID:         rc.SessionID,
		RunID:      rc.RunID,
		OperatorID: rc.OperatorID,
		Reference:  win.Start.Format(config.DateFormat),
	})
	if errors.Is(err, session.ErrRunInProgress) || errors.Is(err, session.ErrSessionExists) {
		RespondWithError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rc.RunID, rc.SessionID = sess.RunID, sess.ID
	audit(fmt.Sprintf("run %s started by %q (session %s, reference %s)", sess.RunID, sess.OperatorID, sess.ID, sess.Reference))

	out := g.runner.Run(r.Context(), rc, func(pct float64, msg string) {
		g.progress.Progress(sess.ID, pct, msg)
		_ = g.sessions.Heartbeat(sess.ID)
	})

	status := http.StatusOK
	if out.Document.Success {
		_ = g.sessions.SetStatus(sess.ID, session.StatusCompleted)
		g.progress.Done(sess.ID, true, "completed")
	} else {
		status = http.StatusInternalServerError
		_ = g.sessions.SetStatus(sess.ID, session.StatusFailed)
		if _, err := g.store.PurgeStaging(context.WithoutCancel(r.Context()), sess.RunID); err != nil {
			logger.Get().Error().Err(err).Str("run_id", sess.RunID).Msg("purge staging of failed run")
		}
		g.progress.Done(sess.ID, false, out.Document.Error)
	}
	respondRaw(w, status, out.Body)
}

type lifecycleFunc func(ctx context.Context, runID, operatorID string) (int64, error)

func (g *Gateway) lifecycle(w http.ResponseWriter, r *http.Request, action string, next session.Status, fn lifecycleFunc) {
	runID, err := validation.RunID(mux.Vars(r)["run_id"])
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidRunID)
		return
	}
	fromBody, _ := validation.ExtractField(r, "operator_id")
	operator := operatorOf(r, fromBody)

	n, err := fn(r.Context(), runID, operator)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess, ok := g.sessions.ByRun(runID); ok {
		_ = g.sessions.SetStatus(sess.ID, next)
		g.progress.Forget(sess.ID)
	}
	audit(fmt.Sprintf("run %s %s by %q (%d movements)", runID, action, operator, n))
	RespondWithPayload(w, map[string]interface{}{"run_id": runID, "status": next, "rows": n})
}

// FinalizeHandler handles POST /commissions/runs/{run_id}/finalize.
func (g *Gateway) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	g.lifecycle(w, r, "finalized", session.StatusFinalized, g.store.Finalize)
}

// CancelHandler handles POST /commissions/runs/{run_id}/cancel.
func (g *Gateway) CancelHandler(w http.ResponseWriter, r *http.Request) {
	g.lifecycle(w, r, "cancelled", session.StatusCancelled, func(ctx context.Context, runID, _ string) (int64, error) {
		return g.store.Cancel(ctx, runID)
	})
}

func (g *Gateway) MovementsHandler(w http.ResponseWriter, r *http.Request) {
	runID, err := validation.RunID(mux.Vars(r)["run_id"])
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidRunID)
		return
	}
	rows, err := g.store.Movements(r.Context(), runID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ledger.Movement{}
	}
	RespondWithPayload(w, map[string]interface{}{"run_id": runID, "rows": rows})
}

func (g *Gateway) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	if err := g.sessions.Heartbeat(id); err != nil {
		RespondWithError(w, http.StatusNotFound, constants.ErrSessionNotFound)
		return
	}
	sess, _ := g.sessions.GetSession(id)
	RespondWithPayload(w, map[string]interface{}{"session": sess})
}

func (g *Gateway) HealthHandler(w http.ResponseWriter, r *http.Request) {
	var status []resource.Health
	if g.resources != nil {
		status = g.resources.Status()
	}
	for _, h := range status {
		if !h.Healthy {
			w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "resources": status})
			return
		}
	}
	RespondWithPayload(w, map[string]interface{}{"resources": status, "progress_streams": g.progress.GetClientCount()})
}

func audit(msg string) {
	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit(msg)
	}
}
