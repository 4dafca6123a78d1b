package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto/devnet"
	"github.com/blndgs/safeauto/keeper"
	"github.com/blndgs/safeauto/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		rosterPath string
		rps        float64
		burst      int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API over an in-memory deployment with a running keeper",
		Long: `Deploys the contracts in memory, starts auto top-up for the roster,
runs a keeper every KEEPER_INTERVAL and serves the HTTP API on LISTEN_ADDR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			roster, err := loadRoster(rosterPath, cfg.Addresses.Treasury)
			if err != nil {
				return err
			}
			d, err := devnet.New(cfg.Addresses, devnet.WithLogger(log))
			if err != nil {
				return err
			}
			for _, rcv := range roster.Receivers {
				if rcv.Address != cfg.Addresses.Treasury {
					d.Fund(rcv.Address, rcv.Threshold)
				}
			}
			id, err := d.StartAutoTopUp(ctx, roster.TreasuryDeposit, roster.Receivers)
			if err != nil {
				return fmt.Errorf("failed to start auto top up: %w", err)
			}
			log.Info("devnet ready",
				zap.Stringer("safe", d.Safe()),
				zap.Stringer("task", id),
				zap.String("network", cfg.Network),
			)

			opts := []keeper.Option{
				keeper.WithFee(cfg.KeeperFee),
				keeper.WithClock(d.Now),
				keeper.WithLogger(log.Named("keeper")),
			}
			if cfg.JournalPath != "" {
				j, err := keeper.OpenJournal(cfg.JournalPath)
				if err != nil {
					return err
				}
				defer j.Close()
				opts = append(opts, keeper.WithJournal(j))
			}
			k := keeper.New(d.Client(), opts...)

			srv, err := server.New(d, rps, burst, log.Named("api"))
			if err != nil {
				return err
			}

			keeperDone := make(chan error, 1)
			go func() { keeperDone <- k.Run(ctx, cfg.KeeperInterval) }()

			err = srv.Run(ctx, cfg.ListenAddr)
			stop()
			if kerr := <-keeperDone; kerr != nil && !errors.Is(kerr, context.Canceled) {
				log.Error("keeper stopped", zap.Error(kerr))
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&rosterPath, "roster", "", "YAML roster file without a safe field (defaults to a two receiver roster)")
	cmd.Flags().Float64Var(&rps, "rate", 10, "API requests per second per client")
	cmd.Flags().IntVar(&burst, "burst", 20, "API request burst per client")
	return cmd
}
