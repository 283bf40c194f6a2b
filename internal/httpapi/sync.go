package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ew384/automaton-core/internal/messages"
	"github.com/ew384/automaton-core/internal/plugin"
)

// SyncHandler serves the on-demand /sync endpoints. This is distinct from
// the Sync Scheduler's recurring background sync: it drives one immediate
// sync per request and reports the outcome synchronously.
type SyncHandler struct {
	custodian tabEnsurer
	registry  *plugin.Registry
	msgStore  *messages.Store
}

func NewSyncHandler(c tabEnsurer, reg *plugin.Registry, store *messages.Store) *SyncHandler {
	return &SyncHandler{custodian: c, registry: reg, msgStore: store}
}

func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /sync", h.handleSync)
	mux.HandleFunc("POST /sync/batch", h.handleBatch)
}

type syncReq struct {
	Platform   string `json:"platform"`
	AccountID  string `json:"accountId"`
	CookieFile string `json:"cookieFile"`
	FullSync   bool   `json:"fullSync"`
}

type syncResp struct {
	Platform    string `json:"platform"`
	AccountID   string `json:"accountId"`
	Success     bool   `json:"success"`
	NewMessages int    `json:"newMessages"`
	Error       string `json:"error,omitempty"`
}

func (h *SyncHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Platform == "" || req.AccountID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("platform and accountId are required"))
		return
	}
	writeOK(w, h.syncOne(r.Context(), req))
}

type batchSyncReq struct {
	Accounts []syncReq `json:"accounts"`
}

func (h *SyncHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchSyncReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	results := make([]syncResp, len(req.Accounts))
	var wg sync.WaitGroup
	for i, acc := range req.Accounts {
		i, acc := i, acc
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.syncOne(r.Context(), acc)
		}()
	}
	wg.Wait()
	writeOK(w, results)
}

func (h *SyncHandler) syncOne(ctx context.Context, req syncReq) syncResp {
	resp := syncResp{Platform: req.Platform, AccountID: req.AccountID}

	mp, ok := h.registry.GetMessage(req.Platform)
	if !ok {
		resp.Error = fmt.Sprintf("no MESSAGE plugin registered for platform %q", req.Platform)
		return resp
	}

	// SyncMessages re-resolves its own tab from CookieFile internally; this
	// call only confirms the account is healthy and ready before syncing.
	if _, err := h.custodian.EnsureMessageTab(ctx, req.Platform, req.AccountID, req.CookieFile); err != nil {
		resp.Error = fmt.Sprintf("ensure message tab: %v", err)
		return resp
	}

	result, err := mp.SyncMessages(ctx, plugin.SyncParams{
		Platform:   req.Platform,
		AccountID:  req.AccountID,
		CookieFile: req.CookieFile,
		FullSync:   req.FullSync,
	})
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if !result.Success {
		resp.Error = "sync reported failure"
		return resp
	}

	h.msgStore.IngestSync(req.Platform, req.AccountID, result)
	resp.Success = true
	resp.NewMessages = len(result.NewMessages)
	return resp
}
