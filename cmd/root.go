// Package cmd wires configuration, the peer coordinators, and the
// listener together behind a cobra root command and an operator REPL,
// generalizing the teacher's bare main.go entrypoint into a real command
// tree the way the rest of this module's ambient stack does.
package cmd

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/corebgp/corebgp/config"
	internallog "github.com/corebgp/corebgp/internal/log"
	"github.com/corebgp/corebgp/rib"
	"github.com/corebgp/corebgp/server"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	watchEtcd  string
	etcdKey    string
)

// NewRootCmd builds the speaker's cobra root command: flags for the
// config file path and log level, then a Run that loads the config,
// starts every configured peer's Coordinator and the inbound Listener,
// and drops into the operator REPL on stdin.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corebgp",
		Short: "A minimal BGP-4 speaker",
		RunE:  runSpeaker,
	}

	root.Flags().StringVar(&configPath, "config", "corebgp.yaml", "path to the YAML configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	root.Flags().StringVar(&watchEtcd, "watch-etcd", "", "comma-separated etcd v3 endpoints to watch for config changes instead of a static file")
	root.Flags().StringVar(&etcdKey, "etcd-key", "/corebgp/config", "etcd key to watch when --watch-etcd is set")

	return root
}

func runSpeaker(cmd *cobra.Command, args []string) error {
	internallog.SetLevel(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	if watchEtcd != "" {
		app.watchEtcd(splitEndpoints(watchEtcd), etcdKey)
	}

	return app.run()
}

func splitEndpoints(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// app bundles every live peer's Coordinator plus the shared Loc-RIB and
// inbound Listener the REPL commands operate on.
type app struct {
	localID      net.IP
	locRIB       *rib.LocRIB
	coordinators map[string]*server.Coordinator
	listener     *server.Listener
	localPort    int
}

func newApp(cfg *config.Config) (*app, error) {
	localID := net.ParseIP(cfg.LocalID)
	if localID == nil {
		return nil, fmt.Errorf("invalid local_id %q", cfg.LocalID)
	}

	locRIB := rib.NewLocRIB()
	a := &app{
		localID:      localID,
		locRIB:       locRIB,
		coordinators: make(map[string]*server.Coordinator, len(cfg.Peers)),
		localPort:    server.BGPPort,
	}

	coords := make([]*server.Coordinator, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if p.LocalPort != 0 {
			a.localPort = p.LocalPort
		}
		c := server.NewCoordinator(p, localID, locRIB)
		a.coordinators[p.RemoteID] = c
		coords = append(coords, c)
	}

	ln, err := server.NewListener(fmt.Sprintf(":%d", a.localPort), coords)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	a.listener = ln

	return a, nil
}

func (a *app) run() error {
	for _, c := range a.coordinators {
		c.Start()
	}

	go func() {
		if err := a.listener.Serve(); err != nil {
			internallog.WithError(err).Warn("cmd: listener stopped")
		}
	}()

	runREPL(a)

	for _, c := range a.coordinators {
		c.Stop()
	}
	return a.listener.Close()
}

// watchEtcd starts a background watch against an etcd v3 cluster and logs
// every pushed config. Hot-swapping the live peer set from a pushed
// config is future work (TODO below); this proves the etcd plumbing end
// to end without yet tearing down/recreating live Coordinators.
func (a *app) watchEtcd(endpoints []string, key string) {
	configCh := make(chan *config.Config, 1)
	go func() {
		if err := config.WatchEtcd(context.Background(), endpoints, key, configCh); err != nil {
			internallog.WithError(err).Warn("cmd: etcd watch stopped")
		}
	}()

	go func() {
		for range configCh {
			// TODO: diff against the running peer set and reconcile
			// Coordinators instead of only observing the new config.
			internallog.Info("cmd: received updated config from etcd")
		}
	}()
}
