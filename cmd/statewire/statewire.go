// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"log"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/statewire/statewire/cfg"
	"github.com/statewire/statewire/server"
	wsserver "github.com/statewire/statewire/server/ws"
	"github.com/statewire/statewire/storage"
)

var (
	port         uint16
	cert         string
	key          string
	configPath   string
	snapshotPath string
	heartbeat    stdlibtime.Duration
	statewire    = &cobra.Command{
		Use:   "statewire",
		Short: "real-time keyed shared-state synchronization server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			serverCfg := resolveServerConfig(cmd.Flags())
			engine := wsserver.NewEngine(serverCfg)
			engine.Start()
			defer engine.Stop()

			snapshots := restoreSnapshot(ctx, engine)
			server.ListenAndServe(ctx, cancel, serverCfg, engine)
			saveSnapshot(snapshots, engine)
		},
	}
	initFlags = func() {
		statewire.Flags().StringVar(&cert, "cert", "", "path to tls certificate for the http/ws server (TLS)")
		statewire.Flags().StringVar(&key, "key", "", "path to tls private key for the http/ws server (TLS)")
		statewire.Flags().Uint16Var(&port, "port", 0, "port to communicate with clients (http/websocket)")
		statewire.Flags().StringVar(&configPath, "config", "", "path to a yaml configuration file supplying the server settings; explicitly set flags override it")
		statewire.Flags().StringVar(&snapshotPath, "snapshot", "", "optional sqlite file to restore state from on start and save it to on shutdown")
		statewire.Flags().DurationVar(&heartbeat, "heartbeat", wsserver.DefaultHeartbeatInterval, "heartbeat interval; connections missing two consecutive rounds are dropped")
	}
)

// resolveServerConfig merges the optional yaml configuration with the command
// line: the file populates the `server/ws/internal/config` section and any
// explicitly set flag overrides the file.
func resolveServerConfig(flags *pflag.FlagSet) *server.Config {
	serverCfg := new(server.Config)
	if configPath != "" {
		cfg.MustInit(configPath)
		serverCfg = cfg.MustGet[server.Config]()
	}
	if flags.Changed("cert") || serverCfg.CertPath == "" {
		serverCfg.CertPath = cert
	}
	if flags.Changed("key") || serverCfg.KeyPath == "" {
		serverCfg.KeyPath = key
	}
	if flags.Changed("port") || serverCfg.Port == 0 {
		serverCfg.Port = port
	}
	if flags.Changed("heartbeat") || serverCfg.HeartbeatInterval == 0 {
		serverCfg.HeartbeatInterval = heartbeat
	}
	if serverCfg.Port == 0 {
		log.Panic("a port is required, via --port or the configuration file")
	}

	return serverCfg
}

func restoreSnapshot(ctx context.Context, engine *wsserver.Engine) *storage.Store {
	if snapshotPath == "" {
		return nil
	}
	snapshots, err := storage.New(snapshotPath)
	if err != nil {
		log.Panic(errors.Wrapf(err, "failed to open snapshot store %v", snapshotPath))
	}
	state, err := snapshots.Load(ctx)
	if err != nil {
		log.Panic(errors.Wrapf(err, "failed to load snapshot from %v", snapshotPath))
	}
	engine.RestoreState(state)
	log.Printf("restored %v state entries from %v", len(state), snapshotPath)

	return snapshots
}

func saveSnapshot(snapshots *storage.Store, engine *wsserver.Engine) {
	if snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*stdlibtime.Second)
	defer cancel()
	state := engine.SnapshotState()
	if err := snapshots.Save(ctx, state); err != nil {
		log.Printf("ERROR:%v", errors.Wrapf(err, "failed to save snapshot to %v", snapshotPath))
	} else {
		log.Printf("saved %v state entries to %v", len(state), snapshotPath)
	}
	if err := snapshots.Close(); err != nil {
		log.Printf("ERROR:%v", err)
	}
}

func init() {
	initFlags()
}

func main() {
	if err := statewire.Execute(); err != nil {
		log.Panic(err)
	}
}
