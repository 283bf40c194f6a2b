package httpapi

import (
	"fmt"
	"net/http"

	"github.com/ew384/automaton-core/internal/monitor"
)

// MonitoringHandler serves /monitoring/* (§6).
type MonitoringHandler struct {
	orch      *monitor.Orchestrator
	custodian tabEnsurer
	// active tracks which account keys are currently monitored, for
	// /monitoring/status and /monitoring/stop-all. The Monitoring
	// Orchestrator itself is stateless per-call, so this bookkeeping lives
	// at the HTTP boundary. Stopping an account always also tears down the
	// Custodian's accountKey -> tab mapping (§5, §8 invariant 2) — this set
	// is bookkeeping for /status, not the source of truth for what's
	// actually running.
	active *activeSet
}

func NewMonitoringHandler(orch *monitor.Orchestrator, custodian tabEnsurer) *MonitoringHandler {
	return &MonitoringHandler{orch: orch, custodian: custodian, active: newActiveSet()}
}

func (h *MonitoringHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /monitoring/start", h.handleStart)
	mux.HandleFunc("POST /monitoring/stop", h.handleStop)
	mux.HandleFunc("POST /monitoring/batch-start", h.handleBatchStart)
	mux.HandleFunc("POST /monitoring/stop-all", h.handleStopAll)
	mux.HandleFunc("GET /monitoring/status", h.handleStatus)
}

type startReq struct {
	Platform   string `json:"platform"`
	AccountID  string `json:"accountId"`
	CookieFile string `json:"cookieFile"`
	Headless   bool   `json:"headless"`
}

func (h *MonitoringHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Platform == "" || req.AccountID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("platform and accountId are required"))
		return
	}

	result, err := h.orch.Start(r.Context(), monitor.StartRequest{
		Accounts: []monitor.Account{{Platform: req.Platform, AccountID: req.AccountID, CookieFile: req.CookieFile}},
		Headless: req.Headless,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	for _, m := range result.Monitored {
		if m.Success {
			h.active.add(m.Account.Platform, m.Account.AccountID)
		}
	}
	writeOK(w, result)
}

type stopReq struct {
	AccountKey string `json:"accountKey"`
}

func (h *MonitoringHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	h.active.remove(req.AccountKey)
	h.custodian.Cleanup(req.AccountKey)
	writeOK(w, map[string]string{"accountKey": req.AccountKey, "status": "stopped"})
}

type batchStartReq struct {
	Accounts []startReq `json:"accounts"`
	WithSync bool       `json:"withSync"`
	FullSync bool       `json:"fullSync"`
}

func (h *MonitoringHandler) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	var req batchStartReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	accounts := make([]monitor.Account, len(req.Accounts))
	for i, a := range req.Accounts {
		accounts[i] = monitor.Account{Platform: a.Platform, AccountID: a.AccountID, CookieFile: a.CookieFile}
	}

	result, err := h.orch.Start(r.Context(), monitor.StartRequest{Accounts: accounts, WithSync: req.WithSync, FullSync: req.FullSync})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	for _, m := range result.Monitored {
		if m.Success {
			h.active.add(m.Account.Platform, m.Account.AccountID)
		}
	}
	writeOK(w, result)
}

func (h *MonitoringHandler) handleStopAll(w http.ResponseWriter, r *http.Request) {
	keys := h.active.clear()
	for _, key := range keys {
		h.custodian.Cleanup(key)
	}
	writeOK(w, map[string]int{"stopped": len(keys)})
}

func (h *MonitoringHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.active.list())
}
