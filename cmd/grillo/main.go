package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	dnssdlog "github.com/brutella/dnssd/log"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/grillo/internal/config"
	"github.com/rescp17/grillo/pkg/discovery"
	"github.com/rescp17/grillo/pkg/link"
)

const (
	logFile         = "grillo.log"
	discoverTimeout = 10 * time.Second
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	confirm    bool
	listenAddr string
	peerAddr   string
	debug      bool
}

// load reads the config file and applies the flags the user set.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("confirm") {
		cfg.WithConfirmation = o.confirm
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = o.listenAddr
	}
	if flags.Changed("peer") {
		cfg.PeerAddr = o.peerAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging sends logs to grillo.log, or to stderr in debug mode.
func setupLogging(debug bool) (io.Closer, error) {
	dnssdlog.Info.SetOutput(io.Discard)
	dnssdlog.Debug.SetOutput(io.Discard)

	if debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		return io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
	return f, nil
}

// dial opens a UDP link towards the configured peer, or towards the first
// listener found over mDNS. Senders bind an ephemeral port; listeners learn
// it from the first datagram and answer there.
func dial(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*link.UDP, error) {
	u, err := link.NewUDP(":0", cfg.PeerAddr, cfg.LinkOptions()...)
	if err != nil {
		return nil, err
	}
	if cfg.PeerAddr != "" {
		return u, nil
	}

	printStatus(cmd.OutOrStdout(), "Looking for a listener...")
	dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	service, err := discovery.FirstPeer(dctx, &discovery.MDNSAdapter{}, discovery.ServiceName(cfg.ServiceType, discovery.DefaultDomain))
	if err != nil {
		_ = u.Close()
		return nil, fmt.Errorf("failed to find a listener, try --peer: %w", err)
	}
	if err := u.SetPeer(service.HostPort()); err != nil {
		_ = u.Close()
		return nil, err
	}

	slog.Info("Found listener", "name", service.Name, "addr", service.HostPort())
	printStatus(cmd.OutOrStdout(), fmt.Sprintf("Found %s at %s", service.Name, service.HostPort()))
	if confirm, ok := service.Text["confirm"]; ok && confirm != fmt.Sprint(cfg.WithConfirmation) {
		slog.Warn("Confirmation mode differs from the listener", "listener", confirm, "local", cfg.WithConfirmation)
		printWarning(cmd.OutOrStdout(), fmt.Sprintf("%s listens with confirmation=%s, consider --confirm=%s", service.Name, confirm, confirm))
	}
	return u, nil
}

func newRootCmd() *cobra.Command {
	o := &options{}
	var closer io.Closer

	cmd := &cobra.Command{
		Use:   "grillo",
		Short: "Send text, clipboard contents and small files to a nearby computer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			closer, err = setupLogging(o.debug)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closer != nil {
				if err := closer.Close(); err != nil {
					slog.Warn("failed to close log file", "error", err)
				}
			}
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "YAML config file")
	flags.BoolVar(&o.confirm, "confirm", false, "Acknowledge and retransmit missing packets")
	flags.StringVar(&o.listenAddr, "listen", "", "Address the listener binds (default from config, :7355)")
	flags.StringVar(&o.peerAddr, "peer", "", "Listener address; browse mDNS when empty")
	flags.BoolVar(&o.debug, "debug", false, "Log to stderr at debug level")

	cmd.AddCommand(
		newTextCmd(o),
		newClipboardCmd(o),
		newFileCmd(o),
		newListenCmd(o),
		newPacketCmd(o),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := fang.Execute(ctx, newRootCmd()); err != nil {
		os.Exit(1)
	}
}
