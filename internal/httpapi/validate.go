package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ew384/automaton-core/internal/plugin"
)

// ValidateHandler serves /validateAccount and /validateAccountsBatch, the
// legacy-envelope revalidation endpoints wired onto the VALIDATE plugin
// kind (§6).
type ValidateHandler struct {
	registry *plugin.Registry
}

func NewValidateHandler(reg *plugin.Registry) *ValidateHandler {
	return &ValidateHandler{registry: reg}
}

func (h *ValidateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /validateAccount", h.handleOne)
	mux.HandleFunc("POST /validateAccountsBatch", h.handleBatch)
}

type validateReq struct {
	Type       int    `json:"type"`
	CookieFile string `json:"cookieFile"`
}

type validateResult struct {
	CookieFile string `json:"cookieFile"`
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
}

func (h *ValidateHandler) validateOne(ctx context.Context, req validateReq) validateResult {
	res := validateResult{CookieFile: req.CookieFile}

	platform, err := resolvePlatform(req.Type)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	vp, ok := h.registry.GetValidate(platform)
	if !ok {
		res.Error = fmt.Sprintf("no VALIDATE plugin registered for platform %q", platform)
		return res
	}

	valid, err := vp.ValidateCookie(ctx, req.CookieFile)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Valid = valid
	return res
}

func (h *ValidateHandler) handleOne(w http.ResponseWriter, r *http.Request) {
	var req validateReq
	if err := decodeJSON(r, &req); err != nil {
		writeLegacyErr(w, http.StatusBadRequest, err)
		return
	}
	writeLegacyOK(w, h.validateOne(r.Context(), req))
}

type batchValidateReq struct {
	Accounts []validateReq `json:"accounts"`
}

func (h *ValidateHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchValidateReq
	if err := decodeJSON(r, &req); err != nil {
		writeLegacyErr(w, http.StatusBadRequest, err)
		return
	}

	results := make([]validateResult, len(req.Accounts))
	var wg sync.WaitGroup
	for i, acc := range req.Accounts {
		i, acc := i, acc
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.validateOne(r.Context(), acc)
		}()
	}
	wg.Wait()
	writeLegacyOK(w, results)
}
