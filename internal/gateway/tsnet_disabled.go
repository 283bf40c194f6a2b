//go:build !tsnet

package gateway

import (
	"log/slog"
	"net"

	"github.com/ew384/automaton-core/internal/config"
)

// tailscaleListener is a no-op in the default build: tailnet exposure
// requires building with -tags tsnet (see tsnet_enabled.go).
func tailscaleListener(cfg config.TailscaleConfig) (net.Listener, bool, error) {
	if cfg.Hostname != "" {
		slog.Warn("gateway: tailscale.hostname is configured but this binary was not built with -tags tsnet; falling back to the local listener")
	}
	return nil, false, nil
}
