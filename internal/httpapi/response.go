// Package httpapi implements the JSON-over-HTTP surface (§6): one handler
// group per endpoint cluster, wired onto a *http.ServeMux by Router.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// envelope is the default {success, data, error} response shape (§6).
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// legacyEnvelope is the {code, msg, data} shape used by the social-automation
// group of endpoints (postVideo*, validateAccount*), matching the teacher's
// older RPC convention those handlers were distilled from.
type legacyEnvelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func writeLegacyOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, legacyEnvelope{Code: 0, Msg: "ok", Data: data})
}

func writeLegacyErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, legacyEnvelope{Code: status, Msg: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
