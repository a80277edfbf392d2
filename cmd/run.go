package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/lomesh/lomesh/core"
	"github.com/lomesh/lomesh/state"
	"github.com/lomesh/lomesh/transport"
)

var (
	bindAddr      string
	broadcastAddr string
	logChanges    bool
	logTable      bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the routing engine on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg state.Config
		file, err := os.ReadFile(configPath)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", configPath, err)
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}
		logger, err := buildLogger(cfg, level)
		if err != nil {
			return err
		}

		tr, err := transport.NewUDPBroadcast(cfg.Id, bindAddr, broadcastAddr, 0)
		if err != nil {
			return err
		}
		defer tr.Close()

		opts := []core.Option{core.WithLogger(logger)}
		if logChanges {
			opts = append(opts, core.WithRouteChanged(func(ev state.RouteEvent) {
				logger.Info("route changed",
					"dest", ev.Destination, "nh", ev.NextHop, "metric", ev.Metric,
					"seqno", ev.Seqno, "valid", ev.Valid, "removed", ev.Removed)
			}))
		}
		engine, err := core.New(cfg, tr, opts...)
		if err != nil {
			return err
		}
		engine.Start()
		defer engine.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		go func() {
			c := make(chan os.Signal, 1)
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
			<-c
			logger.Info("received shutdown signal")
			cancel()
		}()

		if logTable {
			go logSnapshots(ctx, engine, logger, cfg.IncrementalPeriod.Std())
		}

		logger.Info("lomesh is running", "bind", bindAddr, "broadcast", broadcastAddr)
		return tr.Listen(ctx, engine.HandleFrame)
	},
}

// logSnapshots dumps the routing table periodically until the context ends.
func logSnapshots(ctx context.Context, engine *core.Engine, logger *slog.Logger, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range engine.Snapshot() {
				logger.Info("route",
					"dest", r.Destination, "nh", r.NextHop, "metric", r.Metric,
					"seqno", r.Seqno, "valid", r.Valid)
			}
		}
	}
}

func buildLogger(cfg state.Config, level slog.Level) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: fmt.Sprint(cfg.Id),
		}))
	if cfg.LogPath != "" {
		if err := os.MkdirAll(path.Dir(cfg.LogPath), 0700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringVarP(&bindAddr, "bind", "b", "0.0.0.0:47900", "UDP listen address")
	runCmd.Flags().StringVarP(&broadcastAddr, "broadcast", "B", "255.255.255.255:47900", "UDP broadcast address")
	runCmd.Flags().BoolVarP(&logChanges, "lrchange", "g", false, "Log route changes to the console")
	runCmd.Flags().BoolVarP(&logTable, "ltable", "T", false, "Log the routing table once per incremental period")
}
