package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/blndgs/safeauto/config"
)

// NewAddressesCommand creates the addresses command.
func NewAddressesCommand(rootOpts *RootOptions) *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "addresses",
		Short: "Print the automation network addresses of a network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := config.AddressesFor(network)
			if err != nil {
				return err
			}
			view := map[string]string{
				"network":  network,
				"automate": addrs.Automate.Hex(),
				"treasury": addrs.Treasury.Hex(),
				"gelato":   addrs.Gelato.Hex(),
			}
			return output(rootOpts, cmd.OutOrStdout(), view, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "network:  %s\nautomate: %s\ntreasury: %s\ngelato:   %s\n",
					network, addrs.Automate.Hex(), addrs.Treasury.Hex(), addrs.Gelato.Hex())
				return err
			})
		},
	}

	cmd.Flags().StringVar(&network, "network", "hardhat", "network name")
	return cmd
}
