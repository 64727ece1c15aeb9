package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/api"
)

// newWalletCmd builds the `wallet {add,create,update,delete,list,balance,
// pay,invoice,history,server}` tree. add/create/update/delete/list talk to
// the accounts store (locally or, with -r, through the admin API); balance/
// pay/invoice/history settle against the NWC wallet a stored record names,
// which is an external collaborator this binary doesn't implement: balance
// reports the wallet's configuration, and pay/invoice/history return an
// error instead of performing a live NWC round-trip. server starts the
// admin API standalone.
func newWalletCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Manage Lightning wallets (NWC connections)"}

	var nwc string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a wallet's NWC connection string",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runWalletCreate(cfg, args[0], nwc)
		},
	}
	add.Flags().StringVar(&nwc, "nwc", "", "nostr+walletconnect:// connection string")
	cmd.AddCommand(add)

	create := &cobra.Command{
		Use:   "create <name> <nwc>",
		Short: "Create a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return runWalletCreate(cfg, args[0], args[1])
		},
	}
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <id> <nwc>",
		Short: "Update a wallet's NWC connection string",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			rec := api.WalletRecord{NWC: args[1]}
			if cfg.Remote {
				client, err := remoteFor(cfg)
				if err != nil {
					return err
				}
				var out api.WalletRecord
				if err := client.do(http.MethodPut, api.EndpointWithParam(api.WalletEndpoint, api.WalletIDParam, args[0]), rec, &out); err != nil {
					return err
				}
				return printJSON(out)
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			w, err := store.UpdateWallet(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(w)
		},
	}
	cmd.AddCommand(update)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Remote {
				client, err := remoteFor(cfg)
				if err != nil {
					return err
				}
				return client.do(http.MethodDelete, api.EndpointWithParam(api.WalletEndpoint, api.WalletIDParam, args[0]), nil, nil)
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			return store.DeleteWallet(args[0])
		},
	}
	cmd.AddCommand(del)

	list := &cobra.Command{
		Use:   "list",
		Short: "List wallets",
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Remote {
				client, err := remoteFor(cfg)
				if err != nil {
					return err
				}
				var out []api.WalletRecord
				if err := client.do(http.MethodGet, api.WalletsEndpoint, nil, &out); err != nil {
					return err
				}
				return printJSON(out)
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			wallets, err := store.ListWallets()
			if err != nil {
				return err
			}
			return printJSON(wallets)
		},
	}
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "balance <id>",
		Short: "Report a wallet's configuration (live balance requires its NWC collaborator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			w, err := store.GetWallet(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("wallet %q: nwc=%s (live balance requires dialing the NWC relay named above)\n", w.Name, w.NWC)
			return nil
		},
	})

	for _, name := range []string{"pay", "invoice", "history"} {
		name := name
		cmd.AddCommand(&cobra.Command{
			Use:   name + " <id> [args...]",
			Short: fmt.Sprintf("%s against a wallet's NWC connection (external collaborator, not implemented here)", name),
			Args:  cobra.MinimumNArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				store, closeFn, err := openAccounts(cfg)
				if err != nil {
					return err
				}
				defer closeFn()
				w, err := store.GetWallet(args[0])
				if err != nil {
					return err
				}
				return fmt.Errorf("%s requires a live NWC connection to %q; no NWC client is implemented by this binary", name, w.NWC)
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "server",
		Short: "Run the admin HTTP API standalone (alias of `http`)",
		RunE: func(c *cobra.Command, args []string) error {
			return runHTTP(cfg)
		},
	})

	return cmd
}

func runWalletCreate(cfg *cliConfig, name, nwc string) error {
	rec := api.WalletRecord{Name: name, NWC: nwc}
	if cfg.Remote {
		client, err := remoteFor(cfg)
		if err != nil {
			return err
		}
		var out api.WalletRecord
		if err := client.do(http.MethodPost, api.WalletsEndpoint, rec, &out); err != nil {
			return err
		}
		return printJSON(out)
	}
	store, closeFn, err := openAccounts(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	w, err := store.CreateWallet(name, nwc)
	if err != nil {
		return err
	}
	return printJSON(w)
}

// remoteFor builds a remoteClient for cfg, loading the local signer that
// authenticates every admin-API request this process sends.
func remoteFor(cfg *cliConfig) (*remoteClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("--remote requires --url or $PARENT_URL")
	}
	signer, err := cfg.loadOrCreateSigner()
	if err != nil {
		return nil, err
	}
	return newRemoteClient(cfg.URL, signer), nil
}

// openAccounts opens the local database and wraps it as an accounts.Store;
// the returned func closes the database once the caller is done.
func openAccounts(cfg *cliConfig) (*accounts.Store, func(), error) {
	database, err := cfg.openDB()
	if err != nil {
		return nil, nil, err
	}
	return accounts.New(database), func() { _ = database.Close() }, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
