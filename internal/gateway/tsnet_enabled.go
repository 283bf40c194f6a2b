//go:build tsnet

package gateway

import (
	"fmt"
	"net"

	"tailscale.com/tsnet"

	"github.com/ew384/automaton-core/internal/config"
)

// tailscaleListener joins the configured tailnet and listens there instead
// of on a local interface, for operators who want the admin gateway
// reachable only over their tailnet rather than bound to a LAN address.
// Built only with -tags tsnet; the default build skips the tsnet.Server
// dependency entirely (see tsnet_disabled.go).
func tailscaleListener(cfg config.TailscaleConfig) (net.Listener, bool, error) {
	if cfg.Hostname == "" {
		return nil, false, nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       cfg.StateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}

	var ln net.Listener
	var err error
	if cfg.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		return nil, false, fmt.Errorf("gateway: tailscale listen: %w", err)
	}
	return ln, true, nil
}
