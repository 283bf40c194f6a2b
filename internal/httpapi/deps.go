package httpapi

import (
	"context"

	"github.com/ew384/automaton-core/internal/broker"
)

// tabEnsurer is the subset of custodian.Custodian the sync/send/monitoring
// handlers depend on: obtaining a ready, owned tab for a given account
// before calling into a plugin that requires one, and tearing that mapping
// back down again on an explicit stop (§5 cancellation flows).
type tabEnsurer interface {
	EnsureMessageTab(ctx context.Context, platform, accountID, cookieFile string) (broker.TabID, error)
	Cleanup(accountKey string)
}
