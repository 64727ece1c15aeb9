package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/apperrors"
	"github.com/askexperts/askexperts/payments"
	"github.com/askexperts/askexperts/protocol"
	"github.com/askexperts/askexperts/transport"
)

// stubWallet stands in for an NWC wallet, an external collaborator this
// binary doesn't implement: every Pay fails with pay_failed, so a session
// that reaches the payment step ends without paying.
type stubWallet struct{}

func (stubWallet) Pay(_ context.Context, _ string) ([]byte, error) {
	return nil, apperrors.New(apperrors.KindPayment, apperrors.CodePaymentPayFailed,
		"no NWC wallet client available: this binary does not settle invoices")
}

// newChatCmd builds `chat <topic>`: publishes an ask whose summary is topic
// and whose hashtags are topic's whitespace-separated words, runs every
// returned bid's session concurrently, and prints each expert's reply. The
// argument is a topic, not an expert id; bids are not narrowed to one
// expert.
func newChatCmd(cfg *cliConfig) *cobra.Command {
	var relays []string
	var maxAmount int64
	var formats []string

	cmd := &cobra.Command{
		Use:   "chat <topic>",
		Short: "Discover experts for a topic and ask them a question interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if len(relays) == 0 {
				relays = cfg.DiscoveryRelays
			}
			if len(relays) == 0 {
				return fmt.Errorf("no relays: pass --relay or set $DISCOVERY_RELAYS")
			}
			signer, err := cfg.loadOrCreateSigner()
			if err != nil {
				return err
			}

			pool := transport.NewPool(c.Context(), transport.PoolConfig{})
			defer pool.Close()

			pay := payments.New(stubWallet{}, maxAmount)
			client := protocol.NewClient(protocol.ClientConfig{
				Signer:          signer,
				Pool:            pool,
				DiscoveryRelays: relays,
				OnPay:           protocol.DefaultOnPay(pay),
			})

			ctx, cancel := context.WithTimeout(c.Context(), protocol.DefaultDiscoveryTimeout+protocol.DefaultReplyTimeout)
			defer cancel()

			ask, bids, err := client.Discover(ctx, protocol.AskRequest{
				Hashtags:        strings.Fields(args[0]),
				AcceptedFormats: formats,
				Summary:         args[0],
			})
			if err != nil {
				return err
			}
			fmt.Printf("discovered %d bid(s) for ask %s\n", len(bids), ask.ID.String())

			results := client.RunSessions(ctx, bids, args[0], "text")
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s: error (%s): %v\n", r.ExpertPubkey.String(), r.FailureCode, r.Err)
					continue
				}
				fmt.Printf("%s: %s\n", r.ExpertPubkey.String(), r.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "discovery relay URIs (defaults to $DISCOVERY_RELAYS)")
	cmd.Flags().Int64Var(&maxAmount, "max-amount-sats", 1000, "cap on a quote's amount this session will pay")
	cmd.Flags().StringSliceVar(&formats, "format", []string{"text"}, "accepted reply formats")
	return cmd
}
