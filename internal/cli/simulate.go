package cli

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/config"
	"github.com/blndgs/safeauto/devnet"
	"github.com/blndgs/safeauto/keeper"
)

// sink receives the value drained from receivers.
var sink = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// SimulationStep is one keeper round of a simulation.
type SimulationStep struct {
	Drained  *common.Address   `json:"drained,omitempty"`
	Executed int               `json:"executed"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Balances map[string]string `json:"balances"`
}

// SimulationReport is the outcome of the simulate command.
type SimulationReport struct {
	Safe   common.Address   `json:"safe"`
	TaskID common.Hash      `json:"taskId"`
	Steps  []SimulationStep `json:"steps"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	var rosterPath, journalPath string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run auto top-up for a roster on an in-memory deployment",
		Long: `Deploys the Safe, the permission module, the top-up engine and the
automation network in memory, starts auto top-up with the roster and lets a
keeper refill each receiver after draining it below its threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if journalPath == "" {
				journalPath = cfg.JournalPath
			}

			roster, err := loadRoster(rosterPath, cfg.Addresses.Treasury)
			if err != nil {
				return err
			}
			report, err := simulate(cmd.Context(), cfg, roster, journalPath, log)
			if err != nil {
				return err
			}
			return output(rootOpts, cmd.OutOrStdout(), report, func(w io.Writer) error {
				return printReport(w, report)
			})
		},
	}

	cmd.Flags().StringVar(&rosterPath, "roster", "", "YAML roster file without a safe field (defaults to a two receiver roster)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite journal of keeper executions")
	return cmd
}

// loadRoster reads the roster started on the in-memory devnet. The devnet
// deploys its own Safe, so a roster naming another one is rejected.
func loadRoster(path string, treasury common.Address) (*config.Roster, error) {
	if path != "" {
		roster, err := config.LoadRoster(path)
		if err != nil {
			return nil, err
		}
		if roster.Safe != (common.Address{}) {
			return nil, fmt.Errorf("roster names safe %s but the in-memory deployment uses its own safe; drop the safe field", roster.Safe.Hex())
		}
		return roster, nil
	}
	return &config.Roster{
		TreasuryDeposit: safeauto.Ether(1),
		Receivers: []safeauto.Receiver{
			{Address: common.HexToAddress("0x0000000000000000000000000000000000000101"), Amount: safeauto.Ether(10), Threshold: safeauto.Ether(7)},
			{Address: common.HexToAddress("0x0000000000000000000000000000000000000102"), Amount: safeauto.Ether(10), Threshold: safeauto.Ether(5)},
			{Address: treasury, Amount: safeauto.Ether(1), Threshold: safeauto.Ether(1)},
		},
	}, nil
}

func simulate(ctx context.Context, cfg *config.Config, roster *config.Roster, journalPath string, log *zap.Logger) (*SimulationReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := devnet.New(cfg.Addresses, devnet.WithLogger(log))
	if err != nil {
		return nil, err
	}

	// receivers start exactly at their threshold
	var drainable []common.Address
	for _, rcv := range roster.Receivers {
		if rcv.Address == cfg.Addresses.Treasury || rcv.Threshold.Sign() == 0 {
			continue
		}
		d.Fund(rcv.Address, rcv.Threshold)
		drainable = append(drainable, rcv.Address)
	}

	id, err := d.StartAutoTopUp(ctx, roster.TreasuryDeposit, roster.Receivers)
	if err != nil {
		return nil, fmt.Errorf("failed to start auto top up: %w", err)
	}

	opts := []keeper.Option{
		keeper.WithFee(cfg.KeeperFee),
		keeper.WithClock(d.Now),
		keeper.WithLogger(log),
	}
	if journalPath != "" {
		j, err := keeper.OpenJournal(journalPath)
		if err != nil {
			return nil, err
		}
		defer j.Close()
		opts = append(opts, keeper.WithJournal(j))
	}
	k := keeper.New(d.Client(), opts...)

	report := &SimulationReport{Safe: d.Safe(), TaskID: id}
	round := func(drained *common.Address) error {
		results, err := k.RunOnce(ctx)
		if err != nil {
			return err
		}
		balances, err := snapshot(ctx, d, roster.Receivers)
		if err != nil {
			return err
		}
		report.Steps = append(report.Steps, SimulationStep{
			Drained:  drained,
			Executed: results.Executed,
			Skipped:  results.Skipped,
			Failed:   results.Failed,
			Balances: balances,
		})
		return nil
	}

	for _, addr := range drainable {
		if err := d.Transfer(ctx, addr, sink, big.NewInt(1)); err != nil {
			return nil, fmt.Errorf("failed to drain %s: %w", addr.Hex(), err)
		}
		if err := round(&addr); err != nil {
			return nil, err
		}
	}
	if err := round(nil); err != nil {
		return nil, err
	}
	return report, nil
}

func snapshot(ctx context.Context, d *devnet.Devnet, receivers []safeauto.Receiver) (map[string]string, error) {
	balances := make(map[string]string, len(receivers)+1)
	safeBalance, err := d.BalanceAt(ctx, d.Safe())
	if err != nil {
		return nil, err
	}
	balances["safe"] = safeauto.FormatEther(safeBalance)
	for _, rcv := range receivers {
		balance, err := d.ReceiverBalance(ctx, d.Safe(), rcv.Address)
		if err != nil {
			return nil, err
		}
		balances[rcv.Address.Hex()] = safeauto.FormatEther(balance)
	}
	return balances, nil
}

func printReport(w io.Writer, report *SimulationReport) error {
	if _, err := fmt.Fprintf(w, "safe %s\ntask %s\n", report.Safe.Hex(), report.TaskID.Hex()); err != nil {
		return err
	}
	for i, step := range report.Steps {
		drained := "nobody"
		if step.Drained != nil {
			drained = step.Drained.Hex()
		}
		if _, err := fmt.Fprintf(w, "round %d: drained %s, executed %d, skipped %d, failed %d\n",
			i+1, drained, step.Executed, step.Skipped, step.Failed); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  safe: %s ETH\n", step.Balances["safe"]); err != nil {
			return err
		}
	}
	return nil
}
