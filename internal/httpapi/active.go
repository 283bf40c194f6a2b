package httpapi

import "sync"

// activeSet tracks which platform/accountID pairs are currently under
// monitoring, for /monitoring/status and /monitoring/stop-all. It is HTTP-
// layer bookkeeping only — the Monitoring Orchestrator itself does not
// track standing state between calls (§4.6).
type activeSet struct {
	mu  sync.Mutex
	set map[string]activeEntry
}

type activeEntry struct {
	Platform  string `json:"platform"`
	AccountID string `json:"accountId"`
}

func newActiveSet() *activeSet {
	return &activeSet{set: make(map[string]activeEntry)}
}

func (a *activeSet) key(platform, accountID string) string { return platform + "_" + accountID }

func (a *activeSet) add(platform, accountID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set[a.key(platform, accountID)] = activeEntry{Platform: platform, AccountID: accountID}
}

func (a *activeSet) remove(accountKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.set, accountKey)
}

// clear empties the set and returns the account keys it held, so the
// caller can tear down whatever those keys mapped to elsewhere (e.g. the
// Custodian's tab mapping) before the bookkeeping itself is gone.
func (a *activeSet) clear() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.set))
	for k := range a.set {
		keys = append(keys, k)
	}
	a.set = make(map[string]activeEntry)
	return keys
}

func (a *activeSet) list() []activeEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]activeEntry, 0, len(a.set))
	for _, e := range a.set {
		out = append(out, e)
	}
	return out
}
