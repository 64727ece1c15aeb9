// Command askexperts is the single entrypoint binary for every role in the
// marketplace: the admin HTTP server, a discovery client, an expert (direct
// or worker-pool-backed), and the local docstore/wallet/user management
// surfaces. Subcommands are grouped into one file per concern, built on
// spf13/cobra rather than bare pflag since the command surface here is a
// nested subcommand tree rather than a single flat flag set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:           "askexperts",
		Short:         "Nostr-based question-answer marketplace client and server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.load(); err != nil {
				return err
			}
			level := log.LogLevelInfo
			if cfg.Debug {
				level = log.LogLevelDebug
			}
			log.Init(level, "stderr", nil)
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&cfg.Debug, "debug", "d", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&cfg.Remote, "remote", "r", false, "operate against a remote admin API instead of the local database")
	root.PersistentFlags().StringVarP(&cfg.URL, "url", "u", "", "remote admin API base URL (with --remote), defaults to $PARENT_URL")

	root.AddCommand(
		newHTTPCmd(cfg),
		newWalletCmd(cfg),
		newExpertCmd(cfg),
		newDocstoreCmd(cfg),
		newStreamCmd(cfg),
		newChatCmd(cfg),
		newMCPCmd(cfg),
		newEnvCmd(cfg),
		newUserCmd(cfg),
	)
	return root
}
