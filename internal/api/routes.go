package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/auth"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

const maxCommandBytes = 1 << 20

// RegisterRoutes registers the v1 endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	const v1 = "/api/v1"

	mux.HandleFunc(v1+"/health", s.handleHealth)
	mux.HandleFunc(v1+"/status", s.protect(auth.ScopeRead, s.handleStatus))
	mux.HandleFunc(v1+"/commands", s.protect(auth.ScopeControl, s.handleCommands))
	mux.HandleFunc(v1+"/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry))
	mux.HandleFunc(v1+"/traces", s.protect(auth.ScopeTelemetry, s.handleTraces))
}

func (s *Server) protect(scope string, h http.HandlerFunc) http.HandlerFunc {
	return s.auth.RequireAuth(s.auth.RequireScope(scope)(h))
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only "+method+" method is allowed", nil)
	return false
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	health := map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
		"auth":          s.auth.Enabled(),
		"subsystems": map[string]bool{
			"orchestrator": s.orchestrator != nil,
			"telemetry":    s.telemetry != nil,
			"traces":       s.traces != nil,
			"audit":        s.auditor != nil,
		},
	}
	if s.orchestrator == nil {
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED", "Acquisition is not running", health)
		return
	}
	health["state"] = s.orchestrator.Status().State
	WriteSuccess(w, health)
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.orchestrator == nil {
		writeErr(w, ErrUnavailable)
		return
	}
	view, err := configView(s.orchestrator.Config())
	if err != nil {
		s.log.WithError(err).Error("encode configuration")
		writeErr(w, err)
		return
	}
	WriteSuccess(w, map[string]any{
		"status":   s.orchestrator.Status(),
		"config":   view,
		"commands": s.orchestrator.Queue().Stats(),
	})
}

// configView returns the acquisition settings keyed by their command
// names. Service settings are left out since they carry credentials.
func configView(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var view map[string]any
	if err := yaml.Unmarshal(data, &view); err != nil {
		return nil, err
	}
	delete(view, "service")
	return view, nil
}

// handleCommands handles POST /commands. The body is one JSON object of
// parameter names to values, as on the command input.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.orchestrator == nil {
		writeErr(w, ErrUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "BAD_REQUEST", "Command too large", nil)
			return
		}
		writeErr(w, ErrBadRequest)
		return
	}
	params, err := command.ParseLine(body)
	if err != nil {
		if errors.Is(err, command.ErrNotObject) {
			writeErr(w, err)
			return
		}
		writeErr(w, ErrBadRequest)
		return
	}
	if len(params) == 0 {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Command has no parameters", nil)
		return
	}

	cmd := command.NewCommand("api", params)
	user := auth.Subject(r)
	log := s.log.WithField("command_id", cmd.ID).WithField("user", user)

	if err := command.Check(s.orchestrator.Config(), cmd); err != nil {
		s.audit(user, cmd, err)
		log.WithError(err).Warn("command rejected")
		writeErr(w, err)
		return
	}
	if !s.orchestrator.Queue().Push(cmd) {
		writeErr(w, ErrUnavailable)
		return
	}
	s.audit(user, cmd, nil)
	log.Info("command queued")
	WriteAccepted(w, map[string]any{
		"commandId": cmd.ID,
		"queued":    s.orchestrator.Queue().Len(),
	})
}

func (s *Server) audit(user string, cmd command.Command, err error) {
	if s.auditor == nil {
		return
	}
	if aerr := s.auditor.LogCommand(user, cmd.Source, cmd.ID, cmd.Params, err); aerr != nil {
		s.log.WithError(aerr).Error("audit write failed")
	}
}

// handleTelemetry handles GET /telemetry
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry is disabled", nil)
		return
	}
	if err := s.telemetry.Subscribe(r.Context(), w, r); err != nil {
		s.log.WithError(err).Warn("telemetry subscription ended")
	}
}

// handleTraces handles GET /traces
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.traces == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Trace feed is disabled", nil)
		return
	}
	s.traces.ServeHTTP(w, r)
}
