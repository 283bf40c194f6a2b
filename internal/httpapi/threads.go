package httpapi

import (
	"net/http"
	"strconv"

	"github.com/ew384/automaton-core/internal/messages"
)

// ThreadsHandler serves the message-index read surface backed by
// internal/messages.Store (§6 /threads, /search, /statistics,
// /unread-count, /messages/mark-read).
type ThreadsHandler struct {
	store *messages.Store
}

func NewThreadsHandler(store *messages.Store) *ThreadsHandler {
	return &ThreadsHandler{store: store}
}

func (h *ThreadsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /threads", h.handleThreads)
	mux.HandleFunc("GET /threads/{id}/messages", h.handleThreadMessages)
	mux.HandleFunc("POST /messages/mark-read", h.handleMarkRead)
	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("GET /statistics", h.handleStatistics)
	mux.HandleFunc("GET /unread-count", h.handleUnreadCount)
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (h *ThreadsHandler) handleThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threads := h.store.Threads(q.Get("platform"), q.Get("accountId"), intQuery(r, "limit", 0), intQuery(r, "offset", 0))
	writeOK(w, threads)
}

func (h *ThreadsHandler) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	msgs := h.store.Messages(threadID, intQuery(r, "limit", 0), intQuery(r, "offset", 0))
	writeOK(w, msgs)
}

type markReadReq struct {
	ThreadID   string   `json:"threadId"`
	MessageIDs []string `json:"messageIds"`
}

func (h *ThreadsHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	n := h.store.MarkRead(req.ThreadID, req.MessageIDs)
	writeOK(w, map[string]int{"marked": n})
}

func (h *ThreadsHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results := h.store.Search(q.Get("platform"), q.Get("accountId"), q.Get("keyword"), intQuery(r, "limit", 50))
	writeOK(w, results)
}

func (h *ThreadsHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.store.Statistics(r.URL.Query().Get("platform")))
}

func (h *ThreadsHandler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeOK(w, map[string]int{"unreadCount": h.store.UnreadCount(q.Get("platform"), q.Get("accountId"))})
}
