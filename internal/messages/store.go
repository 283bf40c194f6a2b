// Package messages holds the in-process thread/message index the HTTP
// surface queries (§6 /threads, /search, /statistics, /unread-count). The
// durable SQL persistence of accounts/messages is an explicit Non-goal
// (§1) — this index is populated from plugin.SyncResult as syncs complete
// and is not itself a database.
package messages

import (
	"sort"
	"strings"
	"sync"

	"github.com/ew384/automaton-core/internal/plugin"
)

// Thread is one conversation the index tracks for a given account.
type Thread struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	AccountID   string `json:"accountId"`
	ContactName string `json:"contactName"`
	UnreadCount int    `json:"unreadCount"`
}

// StoredMessage is one message persisted into a thread.
type StoredMessage struct {
	ThreadID  string `json:"threadId"`
	ID        string `json:"id"`
	Direction string `json:"direction"` // "in" or "out"
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

// Store indexes threads/messages in memory, keyed by account.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*Thread            // threadID -> thread
	byAcct  map[string][]string           // accountKey -> threadIDs, insertion order
	msgs    map[string][]*StoredMessage   // threadID -> messages, oldest first
}

// NewStore constructs an empty index.
func NewStore() *Store {
	return &Store{
		threads: make(map[string]*Thread),
		byAcct:  make(map[string][]string),
		msgs:    make(map[string][]*StoredMessage),
	}
}

func accountKey(platform, accountID string) string { return platform + "_" + accountID }

// IngestSync folds a plugin.SyncResult into the index (called by the HTTP
// sync handler after a successful sync; Scheduler and Monitor syncs do not
// feed the index).
func (s *Store) IngestSync(platform, accountID string, result plugin.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey(platform, accountID)
	for _, th := range result.Threads {
		s.upsertThreadLocked(platform, accountID, key, th)
	}
	for _, m := range result.NewMessages {
		s.appendMessageLocked(platform, accountID, key, m)
	}
}

func (s *Store) upsertThreadLocked(platform, accountID, key string, th plugin.MessageThread) {
	existing, ok := s.threads[th.ThreadID]
	if !ok {
		s.threads[th.ThreadID] = &Thread{ID: th.ThreadID, Platform: platform, AccountID: accountID, ContactName: th.PeerName, UnreadCount: th.UnreadCount}
		s.byAcct[key] = append(s.byAcct[key], th.ThreadID)
		return
	}
	existing.ContactName = th.PeerName
	existing.UnreadCount = th.UnreadCount
}

func (s *Store) appendMessageLocked(platform, accountID, key string, m plugin.Message) {
	if _, ok := s.threads[m.ThreadID]; !ok {
		s.threads[m.ThreadID] = &Thread{ID: m.ThreadID, Platform: platform, AccountID: accountID}
		s.byAcct[key] = append(s.byAcct[key], m.ThreadID)
	}
	direction := "in"
	if m.FromSelf {
		direction = "out"
	}
	s.msgs[m.ThreadID] = append(s.msgs[m.ThreadID], &StoredMessage{
		ThreadID: m.ThreadID, ID: m.MessageID, Direction: direction, Content: m.Content, Timestamp: m.SentAt.UnixMilli(),
	})
}

// Threads lists threads, optionally filtered by platform/accountID, sorted by thread ID.
func (s *Store) Threads(platform, accountID string, limit, offset int) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if accountID != "" {
		ids = s.byAcct[accountKey(platform, accountID)]
	} else {
		for k, v := range s.byAcct {
			if platform == "" || strings.HasPrefix(k, platform+"_") {
				ids = append(ids, v...)
			}
		}
	}

	out := make([]Thread, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.threads[id]; ok {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, offset)
}

// Messages returns a thread's messages, oldest first.
func (s *Store) Messages(threadID string, limit, offset int) []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.msgs[threadID]
	out := make([]StoredMessage, len(src))
	for i, m := range src {
		out[i] = *m
	}
	return paginate(out, limit, offset)
}

// MarkRead marks the given message IDs (or every message, if none given) as
// read within threadID, returning the number of messages newly marked.
func (s *Store) MarkRead(threadID string, messageIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}

	n := 0
	for _, m := range s.msgs[threadID] {
		if m.Read {
			continue
		}
		if len(want) > 0 && !want[m.ID] {
			continue
		}
		m.Read = true
		n++
	}
	if th, ok := s.threads[threadID]; ok {
		th.UnreadCount -= n
		if th.UnreadCount < 0 {
			th.UnreadCount = 0
		}
	}
	return n
}

// Search finds messages whose content contains keyword, optionally scoped
// to platform/accountID.
func (s *Store) Search(platform, accountID, keyword string, limit int) []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidateThreads []string
	if accountID != "" {
		candidateThreads = s.byAcct[accountKey(platform, accountID)]
	} else {
		for k, v := range s.byAcct {
			if platform == "" || strings.HasPrefix(k, platform+"_") {
				candidateThreads = append(candidateThreads, v...)
			}
		}
	}

	var out []StoredMessage
	for _, tid := range candidateThreads {
		for _, m := range s.msgs[tid] {
			if keyword == "" || strings.Contains(m.Content, keyword) {
				out = append(out, *m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Statistics reports aggregate counts across the index, optionally scoped
// to platform.
type Statistics struct {
	ThreadCount  int `json:"threadCount"`
	MessageCount int `json:"messageCount"`
	UnreadCount  int `json:"unreadCount"`
}

func (s *Store) Statistics(platform string) Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Statistics
	for k, ids := range s.byAcct {
		if platform != "" && !strings.HasPrefix(k, platform+"_") {
			continue
		}
		stats.ThreadCount += len(ids)
		for _, id := range ids {
			stats.MessageCount += len(s.msgs[id])
			if th, ok := s.threads[id]; ok {
				stats.UnreadCount += th.UnreadCount
			}
		}
	}
	return stats
}

// UnreadCount sums unread counts, optionally scoped to platform/accountID.
func (s *Store) UnreadCount(platform, accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if accountID != "" {
		ids = s.byAcct[accountKey(platform, accountID)]
	} else {
		for k, v := range s.byAcct {
			if platform == "" || strings.HasPrefix(k, platform+"_") {
				ids = append(ids, v...)
			}
		}
	}
	total := 0
	for _, id := range ids {
		if th, ok := s.threads[id]; ok {
			total += th.UnreadCount
		}
	}
	return total
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
