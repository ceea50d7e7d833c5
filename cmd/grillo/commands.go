package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rescp17/grillo/internal/config"
	"github.com/rescp17/grillo/pkg/discovery"
	"github.com/rescp17/grillo/pkg/link"
	"github.com/rescp17/grillo/pkg/modem"
	"github.com/rescp17/grillo/pkg/packet"
	"github.com/rescp17/grillo/pkg/receiver"
	"github.com/rescp17/grillo/pkg/sender"
	"github.com/rescp17/grillo/pkg/ui"
)

// withSender dials the listener and runs send with a sender app, printing
// its progress.
func withSender(cmd *cobra.Command, o *options, send func(ctx context.Context, app *sender.App) error) error {
	ctx := cmd.Context()
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}

	u, err := dial(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer u.Close()

	app, err := sender.NewApp(u, cfg.ModemOptions(slog.Default()))
	if err != nil {
		return err
	}

	p := printer{out: cmd.OutOrStdout()}
	stop := p.followInBackground(app.UIMessages())
	err = send(ctx, app)
	stop()
	return err
}

func newTextCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "text <text>",
		Short: "Send a text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSender(cmd, o, func(ctx context.Context, app *sender.App) error {
				return app.SendText(ctx, args[0])
			})
		},
	}
}

func newClipboardCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "clipboard",
		Aliases: []string{"clip"},
		Short:   "Send the contents of the clipboard",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSender(cmd, o, func(ctx context.Context, app *sender.App) error {
				return app.SendClipboard(ctx)
			})
		},
	}
}

func newFileCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "file [path]",
		Short: "Send a file, picking it interactively when no path is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				var err error
				if path, err = pickFile(cmd, o); err != nil {
					return err
				}
				if path == "" {
					printWarning(cmd.OutOrStdout(), "No file picked")
					return nil
				}
			}
			return withSender(cmd, o, func(ctx context.Context, app *sender.App) error {
				return app.SendFile(ctx, path)
			})
		},
	}
}

// pickFile runs the file picker in the working directory and returns the
// chosen path, empty if the user quit.
func pickFile(cmd *cobra.Command, o *options) (string, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return "", err
	}
	chainLen := packet.ChainLen
	if cfg.LegacyChainLen {
		chainLen = packet.LegacyChainLen
	}

	picker, err := ui.NewFilePicker(".", packet.MaxMessageSize(cfg.DataLen, chainLen))
	if err != nil {
		return "", err
	}
	final, err := tea.NewProgram(picker, tea.WithContext(cmd.Context())).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return "", nil
		}
		return "", fmt.Errorf("alas, there's been an error: %w", err)
	}
	return final.(ui.FilePicker).Selected(), nil
}

func newListenCmd(o *options) *cobra.Command {
	var (
		forever    bool
		tui        bool
		outputDir  string
		noAnnounce bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive whatever is being sent from the other computer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("out") {
				cfg.OutputDir = outputDir
			}

			u, err := link.NewUDP(cfg.ListenAddr, cfg.PeerAddr, cfg.LinkOptions()...)
			if err != nil {
				return err
			}
			defer u.Close()

			app, err := newListener(u, cfg, forever || tui, !noAnnounce)
			if err != nil {
				return err
			}

			if tui {
				program := tea.NewProgram(ui.NewListenModel(ctx, app, cfg.OutputDir), tea.WithContext(ctx))
				if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return fmt.Errorf("alas, there's been an error: %w", err)
				}
				return nil
			}

			p := printer{out: cmd.OutOrStdout()}
			stop := p.followInBackground(app.UIMessages())
			defer stop()
			return app.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&forever, "forever", false, "Keep listening after the first message")
	cmd.Flags().BoolVar(&tui, "tui", false, "Interactive listening screen (implies --forever)")
	cmd.Flags().StringVar(&outputDir, "out", "", "Directory received files are saved to")
	cmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "Don't announce the listener over mDNS")
	return cmd
}

func newListener(u *link.UDP, cfg *config.Config, forever, announce bool) (*receiver.App, error) {
	options := []receiver.Option{
		receiver.WithForever(forever),
		receiver.WithOutputDir(cfg.OutputDir),
		receiver.WithAddr(u.LocalAddr().String()),
	}
	if announce {
		options = append(options, receiver.WithAnnouncement(&discovery.MDNSAdapter{}, cfg.ServiceType, u.LocalAddr().Port))
	}
	return receiver.NewApp(u, cfg.ModemOptions(slog.Default()), options...)
}

func newPacketCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packet",
		Short: "Send or receive a single raw packet",
	}

	var isHex bool
	sendCmd := &cobra.Command{
		Use:   "send <text|hex>",
		Short: "Send one packet as is",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if isHex {
				var err error
				if payload, err = hex.DecodeString(args[0]); err != nil {
					return fmt.Errorf("invalid hex payload: %w", err)
				}
			}

			ctx := cmd.Context()
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			u, err := dial(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer u.Close()

			m, err := modem.New(u, cfg.ModemOptions(slog.Default())...)
			if err != nil {
				return err
			}
			if err := m.SendPacket(ctx, payload); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), fmt.Sprintf("Sent %d bytes", len(payload)))
			return nil
		},
	}
	sendCmd.Flags().BoolVar(&isHex, "hex", false, "Payload is hex encoded")

	var timeout time.Duration
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for one packet and dump it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			u, err := link.NewUDP(cfg.ListenAddr, cfg.PeerAddr, cfg.LinkOptions()...)
			if err != nil {
				return err
			}
			defer u.Close()

			m, err := modem.New(u, cfg.ModemOptions(slog.Default())...)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), fmt.Sprintf("Waiting for a packet on %s...", u.LocalAddr()))
			p, err := m.ReceivePacket(ctx, timeout)
			if errors.Is(err, context.Canceled) {
				printWarning(cmd.OutOrStdout(), "Grillo was killed. Poor little grillo.")
				return nil
			}
			if err != nil {
				return err
			}
			if p == nil {
				printWarning(cmd.OutOrStdout(), "No packet received")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(p))
			return nil
		},
	}
	listenCmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits until interrupted)")

	cmd.AddCommand(sendCmd, listenCmd)
	return cmd
}
