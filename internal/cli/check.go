package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/topup"
)

// CheckResult is the outcome of the check command.
type CheckResult struct {
	Safe      common.Address    `json:"safe"`
	CanExec   bool              `json:"canExec"`
	Receivers []CheckedReceiver `json:"receivers"`
}

// CheckedReceiver is one roster line with its live balance.
type CheckedReceiver struct {
	Address    common.Address `json:"address"`
	Balance    string         `json:"balance"`
	Threshold  string         `json:"threshold"`
	NeedsTopUp bool           `json:"needsTopUp"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		rosterPath string
		rpcURL     string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a roster file against balances on a live node",
		Long: `Reads the receivers of a roster file and evaluates the top-up predicate
against native balances and the automation treasury balance read from RPC_URL.
The roster file must name the Safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()
			if rpcURL == "" {
				rpcURL = cfg.RPCURL
			}
			if rpcURL == "" {
				return errors.New("no RPC endpoint: set RPC_URL or --rpc")
			}

			roster, err := loadRoster(rosterPath, cfg.Addresses.Treasury)
			if err != nil {
				return err
			}
			if roster.Safe == (common.Address{}) {
				return errors.New("roster file does not name the safe")
			}

			ctx := cmd.Context()
			oracle, err := topup.DialRPCOracle(ctx, rpcURL, cfg.Addresses.Treasury)
			if err != nil {
				return err
			}
			registry := topup.NewRegistry()
			registry.Set(nil, roster.Safe, roster.Receivers...)
			engine := topup.NewEngine(common.Address{}, cfg.Addresses.Treasury, registry, log.Named("engine"))

			canExec, _, err := engine.Check(ctx, oracle, roster.Safe)
			if err != nil {
				return err
			}
			result := CheckResult{Safe: roster.Safe, CanExec: canExec}
			for _, rcv := range registry.Roster(roster.Safe) {
				balance, err := engine.Balance(ctx, oracle, roster.Safe, rcv.Address)
				if err != nil {
					return err
				}
				result.Receivers = append(result.Receivers, CheckedReceiver{
					Address:    rcv.Address,
					Balance:    safeauto.FormatEther(balance),
					Threshold:  safeauto.FormatEther(rcv.Threshold),
					NeedsTopUp: rcv.NeedsTopUp(balance),
				})
			}

			return output(rootOpts, cmd.OutOrStdout(), result, func(w io.Writer) error {
				if _, err := fmt.Fprintf(w, "safe %s: canExec=%t\n", result.Safe.Hex(), result.CanExec); err != nil {
					return err
				}
				for _, rcv := range result.Receivers {
					if _, err := fmt.Fprintf(w, "  %s balance %s threshold %s needsTopUp=%t\n",
						rcv.Address.Hex(), rcv.Balance, rcv.Threshold, rcv.NeedsTopUp); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&rosterPath, "roster", "", "YAML roster file naming the safe")
	cmd.Flags().StringVar(&rpcURL, "rpc", "", "JSON-RPC endpoint (defaults to RPC_URL)")
	_ = cmd.MarkFlagRequired("roster")
	return cmd
}
