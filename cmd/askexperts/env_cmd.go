package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newEnvCmd builds `env {show,migrate}`: show prints the resolved
// configuration with secrets masked, migrate copies NWC_STRING into the
// accounts store as a new default wallet. OPENROUTER_API_KEY is not
// migrated; it stays environment-only.
func newEnvCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{Use: "env", Short: "Inspect and migrate environment-derived configuration"}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration, secrets masked",
		RunE: func(c *cobra.Command, args []string) error {
			fmt.Printf("data dir:         %s\n", cfg.dataDir)
			fmt.Printf("port:             %s\n", cfg.Port)
			fmt.Printf("parent url:       %s\n", cfg.ParentURL)
			fmt.Printf("parent token:     %s\n", mask(cfg.ParentToken))
			fmt.Printf("mcp server id:    %s\n", cfg.MCPServerID)
			fmt.Printf("discovery relays: %s\n", strings.Join(cfg.DiscoveryRelays, ","))
			fmt.Printf("openai api key:   %s\n", mask(cfg.OpenAIAPIKey))
			fmt.Printf("openai base url:  %s\n", cfg.OpenAIBaseURL)
			fmt.Printf("chroma host:      %s\n", cfg.ChromaHost)
			fmt.Printf("chroma port:      %s\n", cfg.ChromaPort)
			fmt.Printf("docstore url:     %s\n", cfg.DocstoreURL)
			fmt.Printf("nwc string:       %s\n", mask(cfg.NWCString))
			fmt.Printf("openrouter key:   %s\n", mask(cfg.OpenRouterKey))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Persist the NWC_STRING env secret into the local accounts store as the default wallet",
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.NWCString == "" && cfg.OpenRouterKey == "" {
				fmt.Println("nothing to migrate")
				return nil
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			if cfg.NWCString != "" {
				w, err := store.CreateWallet("migrated-env-wallet", cfg.NWCString)
				if err != nil {
					return err
				}
				if err := store.SetDefaultWallet(w.ID); err != nil {
					return err
				}
				fmt.Printf("migrated NWC_STRING into wallet %s (set as default)\n", w.ID)
			}
			if cfg.OpenRouterKey != "" {
				fmt.Println("OPENROUTER_API_KEY stays environment-only: it configures the openrouter subcommand's HTTP client, not an accounts record")
			}
			return nil
		},
	})

	return cmd
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
