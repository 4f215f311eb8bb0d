package api

import (
	"context"
	"net/http"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/acquisition"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/audit"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/telemetry"
)

// OrchestratorPort is what the API needs from the acquisition loop.
type OrchestratorPort interface {
	Status() acquisition.Status
	Config() *config.Config
	Queue() *command.Queue
}

// TelemetryPort streams events to one HTTP client.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// CommandAuditor records submitted commands.
type CommandAuditor interface {
	LogCommand(user, source, commandID string, params map[string]any, err error) error
}

var (
	_ OrchestratorPort = (*acquisition.Orchestrator)(nil)
	_ TelemetryPort    = (*telemetry.Hub)(nil)
	_ CommandAuditor   = (*audit.Logger)(nil)
)
