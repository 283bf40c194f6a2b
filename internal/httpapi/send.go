package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ew384/automaton-core/internal/plugin"
)

// SendHandler serves /send and /send/batch: obtaining a tab through the
// Custodian, then handing it to the MESSAGE plugin's SendMessage.
type SendHandler struct {
	custodian tabEnsurer
	registry  *plugin.Registry
}

func NewSendHandler(c tabEnsurer, reg *plugin.Registry) *SendHandler {
	return &SendHandler{custodian: c, registry: reg}
}

func (h *SendHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /send", h.handleSend)
	mux.HandleFunc("POST /send/batch", h.handleBatch)
}

type sendReq struct {
	Platform   string `json:"platform"`
	AccountID  string `json:"accountId"`
	CookieFile string `json:"cookieFile"`
	UserName   string `json:"userName"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
}

type sendResp struct {
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`
	UserName  string `json:"userName"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func (h *SendHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Platform == "" || req.AccountID == "" || req.UserName == "" || req.Content == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("platform, accountId, userName and content are required"))
		return
	}
	writeOK(w, h.sendOne(r.Context(), req))
}

type batchSendReq struct {
	Messages []sendReq `json:"messages"`
}

func (h *SendHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchSendReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	results := make([]sendResp, len(req.Messages))
	var wg sync.WaitGroup
	for i, m := range req.Messages {
		i, m := i, m
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.sendOne(r.Context(), m)
		}()
	}
	wg.Wait()
	writeOK(w, results)
}

func (h *SendHandler) sendOne(ctx context.Context, req sendReq) sendResp {
	resp := sendResp{Platform: req.Platform, AccountID: req.AccountID, UserName: req.UserName}

	mp, ok := h.registry.GetMessage(req.Platform)
	if !ok {
		resp.Error = fmt.Sprintf("no MESSAGE plugin registered for platform %q", req.Platform)
		return resp
	}

	tabID, err := h.custodian.EnsureMessageTab(ctx, req.Platform, req.AccountID, req.CookieFile)
	if err != nil {
		resp.Error = fmt.Sprintf("ensure message tab: %v", err)
		return resp
	}

	kind := req.Kind
	if kind == "" {
		kind = "text"
	}

	result, err := mp.SendMessage(ctx, plugin.SendParams{
		Platform: req.Platform,
		TabID:    tabID,
		UserName: req.UserName,
		Content:  req.Content,
		Kind:     kind,
	})
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if !result.Success {
		resp.Error = result.Error
		return resp
	}

	resp.Success = true
	return resp
}
