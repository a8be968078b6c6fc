package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/pulse-server/internal/app"
	"github.com/vovakirdan/pulse-server/internal/config"
	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/log"
	"github.com/vovakirdan/pulse-server/internal/proto"
	"github.com/vovakirdan/pulse-server/internal/store"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "pulse-server",
		Short:         "Assigns listeners to channels and broadcasts participant counts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	serve := newServeCmd(opts)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newResetCmd(opts), newTableCmd(opts))
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	bootLogger := log.New(o.logLevel)

	cfg, path, err := config.Load(bootLogger, o.configPath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "load config: %v\n", err)
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if addr, err := cmd.Flags().GetString("addr"); err == nil && addr != "" {
		cfg.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "invalid config: %v\n", err)
		return err
	}

	o.cfg = cfg
	o.logger = log.New(cfg.LogLevel)
	o.logger.Debug().Str("path", path).Msg("config loaded")
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&opts.cfg, opts.logger)
			if err != nil {
				opts.logger.Error().Err(err).Msg("failed to start")
				return err
			}

			opts.logger.Info().Str("addr", opts.cfg.Addr).Str("room", opts.cfg.Room).Msg("starting pulse server")
			if err := application.Run(ctx); err != nil {
				opts.logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			opts.logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address override")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear every channel assignment in the stored table",
		Long:  "Clear every channel assignment in the stored table. Run it while the server is stopped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCoordinator(cmd.Context(), opts, func(ctx context.Context, coord *core.Coordinator) error {
				if err := coord.Reset(ctx); err != nil {
					return err
				}
				opts.logger.Info().Str("room", coord.Room()).Msg("channel table cleared")
				return writeJSON(cmd, proto.ResetAck{Done: true})
			})
		},
	}
}

func newTableCmd(opts *rootOptions) *cobra.Command {
	var (
		count  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the stored table reconciled to --count channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCoordinator(cmd.Context(), opts, func(ctx context.Context, coord *core.Coordinator) error {
				table, err := coord.Snapshot(ctx, count)
				if err != nil {
					return err
				}
				if format == "text" {
					renderTable(cmd, table)
					return nil
				}
				return writeJSON(cmd, proto.TableResponse{PulseList: table})
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 8, "number of channels")
	cmd.Flags().StringVar(&format, "format", "json", "output format (json, text)")
	return cmd
}

func renderTable(cmd *cobra.Command, table core.ChannelTable) {
	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetHeader([]string{"Channel", "Participants", "IDs"})
	tw.SetAutoWrapText(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetBorder(false)

	for _, ch := range table.Channels() {
		ids := table[ch]
		tw.Append([]string{strconv.Itoa(ch), strconv.Itoa(len(ids)), strings.Join(ids, ",")})
	}
	tw.SetFooter([]string{"total", strconv.Itoa(table.Total()), ""})
	tw.Render()
}

// withCoordinator runs fn against a short-lived coordinator over the configured store.
func withCoordinator(parent context.Context, opts *rootOptions, fn func(context.Context, *core.Coordinator) error) error {
	st, err := store.Open(&opts.cfg)
	if err != nil {
		opts.logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			opts.logger.Warn().Err(err).Msg("failed to close store")
		}
	}()

	ctx, cancel := context.WithCancel(parent)
	coord := core.NewCoordinator(st, app.CoordinatorOptions(&opts.cfg), opts.logger)
	go coord.Run(ctx)
	defer func() {
		cancel()
		<-coord.Done()
	}()

	opCtx, opCancel := context.WithTimeout(ctx, 30*time.Second)
	defer opCancel()

	if err := fn(opCtx, coord); err != nil {
		opts.logger.Error().Err(err).Msg("command failed")
		return err
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
