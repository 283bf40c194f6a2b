package httpapi

import (
	"net/http"

	"github.com/ew384/automaton-core/internal/messages"
	"github.com/ew384/automaton-core/internal/monitor"
	"github.com/ew384/automaton-core/internal/plugin"
	"github.com/ew384/automaton-core/internal/upload"
)

// Deps bundles every collaborator the HTTP surface dispatches onto.
type Deps struct {
	Custodian tabEnsurer
	Registry  *plugin.Registry
	Orch      *monitor.Orchestrator
	Messages  *messages.Store
	Pipeline  *upload.Pipeline
	AvatarDir string
}

// NewRouter builds the full mux described by §6: monitoring, sync, send,
// thread/message index, upload, and validation endpoint groups, plus
// avatar serving.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	NewMonitoringHandler(deps.Orch, deps.Custodian).RegisterRoutes(mux)
	NewSyncHandler(deps.Custodian, deps.Registry, deps.Messages).RegisterRoutes(mux)
	NewSendHandler(deps.Custodian, deps.Registry).RegisterRoutes(mux)
	NewThreadsHandler(deps.Messages).RegisterRoutes(mux)
	NewUploadHandler(deps.Pipeline).RegisterRoutes(mux)
	NewValidateHandler(deps.Registry).RegisterRoutes(mux)
	NewAvatarHandler(deps.AvatarDir).RegisterRoutes(mux)

	mux.HandleFunc("GET /health", handleHealth)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}
