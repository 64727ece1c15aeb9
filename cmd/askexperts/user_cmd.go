package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/types"
)

// newUserCmd builds `user {add,whoami}`. The admin API has no /users route
// (api/routes.go lists health, wallets, experts and the worker upgrade
// only), so
// unlike wallet/expert this stays local-only regardless of --remote; a
// remote admin never needs to provision the users authorized to call it
// from this binary.
func newUserCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage locally-authorized admin users"}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <pubkey-hex> <name>",
		Short: "Authorize a pubkey to call this binary's admin API",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Remote {
				return fmt.Errorf("user add has no remote admin route; run it directly on the host the admin API runs on")
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			pubkey, err := types.HexStringToHexBytes(args[0])
			if err != nil {
				return err
			}
			user, err := store.AddUser(pubkey, args[1])
			if err != nil {
				return err
			}
			return printJSON(user)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Print this process's local identity pubkey",
		RunE: func(c *cobra.Command, args []string) error {
			signer, err := cfg.loadOrCreateSigner()
			if err != nil {
				return err
			}
			fmt.Println(signer.Pubkey().Hex())
			return nil
		},
	})

	return cmd
}
