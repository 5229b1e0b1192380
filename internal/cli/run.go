package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/ami"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/bridge"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/call"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/config"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/logging"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/metrics"
	"github.com/parcoyhpang/FreePBX-PopUp-macOS/internal/monitor"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		host       string
		port       int
		withBridge bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the PBX and monitor calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if host != "" {
				cfg.AMI.Host = host
			}
			if port != 0 {
				cfg.AMI.Port = port
			}
			if withBridge {
				cfg.Bridge.Enabled = true
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if cfg.Logging.File != "" || cfg.Logging.ConsoleStyle == "json" {
				fileLog, err := logging.FromConfig(cfg.Logging.Level, cfg.Logging.ConsoleStyle, cfg.Logging.File)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				log = fileLog
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			met := metrics.New()
			mon := monitor.New(cfg, met, log)

			var feed *bridge.Server
			if cfg.Bridge.Enabled {
				feed = bridge.New(cfg.Bridge, met.Registry(), log)
				bridgeErr := make(chan error, 1)
				go func() { bridgeErr <- feed.Run(ctx) }()
				// Cancel the context before waiting, so an early return
				// (fatal connect error) does not block on a bridge that is
				// still serving.
				defer func() {
					stop()
					if err := <-bridgeErr; err != nil {
						log.Error().Err(err).Msg("bridge stopped with error")
					}
				}()
			}

			wireNotifications(mon, feed)

			if err := mon.Connect(); err != nil {
				return err
			}
			defer mon.Disconnect()

			log.Info().
				Str("host", cfg.AMI.Host).
				Int("port", cfg.AMI.Port).
				Strs("extensions", cfg.Extensions.Monitor).
				Bool("monitorAll", cfg.Extensions.MonitorAll).
				Msg("monitoring calls")

			<-ctx.Done()
			log.Info().Msg("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "override AMI host")
	cmd.Flags().IntVar(&port, "port", 0, "override AMI port")
	cmd.Flags().BoolVar(&withBridge, "bridge", false, "enable the UI event feed")

	return cmd
}

// wireNotifications forwards call lifecycle and connection state changes to
// the log and, when enabled, to the UI feed. feed may be nil.
func wireNotifications(mon *monitor.Monitor, feed *bridge.Server) {
	mon.OnCallStarted(func(c call.Call) {
		if feed != nil {
			feed.Broadcast(bridge.EventCallStarted, c)
		}
	})
	mon.OnCallAnswered(func(c call.Call) {
		if feed != nil {
			feed.Broadcast(bridge.EventCallAnswered, c)
		}
	})
	mon.OnCallEnded(func(c call.Call) {
		if feed != nil {
			feed.Broadcast(bridge.EventCallEnded, c)
		}
	})
	mon.OnConnectionStateChanged(func(old, new ami.ConnectionState) {
		if feed != nil {
			feed.Broadcast(bridge.EventConnectionState, bridge.ConnectionStatePayload{
				Old: old.String(),
				New: new.String(),
			})
		}
	})
}
