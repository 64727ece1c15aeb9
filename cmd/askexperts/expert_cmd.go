package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/accounts"
	"github.com/askexperts/askexperts/api"
	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/log"
	"github.com/askexperts/askexperts/protocol"
	"github.com/askexperts/askexperts/ragindex"
	"github.com/askexperts/askexperts/scheduler"
	"github.com/askexperts/askexperts/transport"
	"github.com/askexperts/askexperts/types"
)

// newExpertCmd builds the `expert {create,update,delete,run,ls,search,
// server,worker,openrouter,nostr}` tree (C8).
func newExpertCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{Use: "expert", Short: "Manage and run expert personas"}

	var name, description, walletID, expertType string
	create := &cobra.Command{
		Use:   "create <pubkey-hex>",
		Short: "Register an expert persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rec := api.ExpertRecord{Name: name, Description: description, WalletID: walletID, ExpertType: expertType}
			pubkey, err := types.HexStringToHexBytes(args[0])
			if err != nil {
				return err
			}
			rec.Pubkey = pubkey
			if cfg.Remote {
				client, err := remoteFor(cfg)
				if err != nil {
					return err
				}
				var out api.ExpertRecord
				if err := client.do(http.MethodPost, api.ExpertsEndpoint, rec, &out); err != nil {
					return err
				}
				return printJSON(out)
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			e := &accounts.Expert{Pubkey: pubkey, Name: name, Description: description, WalletID: walletID, ExpertType: expertType}
			if err := store.UpsertExpert(e); err != nil {
				return err
			}
			return printJSON(e)
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&description, "description", "", "short description")
	create.Flags().StringVar(&walletID, "wallet", "", "wallet id this expert spends from")
	create.Flags().StringVar(&expertType, "type", "general", "expert type (scheduler dispatch filter)")
	cmd.AddCommand(create)

	update := &cobra.Command{
		Use:   "update <pubkey-hex>",
		Short: "Update an expert persona (same flags as create)",
		Args:  cobra.ExactArgs(1),
		RunE:  create.RunE,
	}
	update.Flags().AddFlagSet(create.Flags())
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <pubkey-hex>",
		Short: "Delete an expert persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Remote {
				client, err := remoteFor(cfg)
				if err != nil {
					return err
				}
				return client.do(http.MethodDelete, api.EndpointWithParam(api.ExpertEndpoint, api.ExpertPubkeyParam, args[0]), nil, nil)
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
			return store.DeleteExpert(pubkey)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List expert personas",
		RunE: func(c *cobra.Command, args []string) error {
			if cfg.Remote {
				client, err := remoteFor(cfg)
				if err != nil {
					return err
				}
				var out []api.ExpertRecord
				if err := client.do(http.MethodGet, api.ExpertsEndpoint, nil, &out); err != nil {
					return err
				}
				return printJSON(out)
			}
			store, closeFn, err := openAccounts(cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			experts, err := store.ListExperts()
			if err != nil {
				return err
			}
			return printJSON(experts)
		},
	})

	var limit int
	search := &cobra.Command{
		Use:   "search <docstore-id> <query>",
		Short: "Run a RAG search the way a worker would to compute a quote/answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			rag := ragindex.New(database)
			results, err := rag.Search(args[0], pseudoEmbed(args[1]), limit, ragindex.SearchOptions{})
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%.4f\t%s\n", r.Distance, string(r.Data))
			}
			return nil
		},
	}
	search.Flags().IntVar(&limit, "limit", 5, "max results")
	cmd.AddCommand(search)

	cmd.AddCommand(newExpertRunCmd(cfg))
	cmd.AddCommand(newExpertServerCmd(cfg, false))
	cmd.AddCommand(newExpertServerCmd(cfg, true))
	cmd.AddCommand(newExpertWorkerCmd(cfg))
	cmd.AddCommand(newExpertNostrCmd(cfg))

	return cmd
}

// newExpertRunCmd answers a single question locally against a docstore's
// RAG index, without touching the network — a quick way to validate a
// persona's retrieval quality before running it as a server/worker.
func newExpertRunCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "run <docstore-id> <question>",
		Short: "Answer a question locally by retrieving the closest docstore chunks",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			rag := ragindex.New(database)
			fmt.Println(ragAnswer(rag, args[0], args[1]))
			return nil
		},
	}
}

// ragAnswer retrieves the closest chunks in collection to question and
// concatenates them as the answer; the LLM backend that would turn this
// context into prose is an external collaborator this binary doesn't
// implement, so this returns the retrieved context verbatim.
func ragAnswer(rag *ragindex.RagIndex, collection, question string) string {
	results, err := rag.Search(collection, pseudoEmbed(question), 3, ragindex.SearchOptions{})
	if err != nil || len(results) == 0 {
		return ""
	}
	out := ""
	for i, r := range results {
		if i > 0 {
			out += "\n\n"
		}
		out += string(r.Data)
	}
	return out
}

// newExpertServerCmd runs a standalone, directly-addressable Expert (no
// scheduler) against the discovery relays, bidding on any Ask matching
// --hashtag and quoting/answering from a docstore's RAG index. openrouter
// swaps the verbatim-context answer for one phrased by an OpenRouter chat
// completion, the injected LLM backend the CLI surface names.
func newExpertServerCmd(cfg *cliConfig, openrouter bool) *cobra.Command {
	use, short := "server", "Run a standalone expert listening directly on discovery relays"
	if openrouter {
		use, short = "openrouter", "Run a standalone expert whose answers are phrased by OpenRouter"
	}

	var relays []string
	var hashtags []string
	var docstoreID string
	var priceSats int64

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
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

			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			rag := ragindex.New(database)

			ctx, cancel := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			pool := transport.NewPool(ctx, transport.PoolConfig{})
			defer pool.Close()

			answer := directAnswerFunc(rag, docstoreID)
			if openrouter {
				if cfg.OpenRouterKey == "" {
					return fmt.Errorf("openrouter mode requires $OPENROUTER_API_KEY")
				}
				answer = openRouterAnswerFunc(cfg, rag, docstoreID)
			}

			x := protocol.NewExpert(protocol.ExpertConfig{
				Signer:       signer,
				Pool:         pool,
				ListenRelays: relays,
				Hashtags:     hashtags,
				Bid: func(_ context.Context, ask *types.Ask) (string, bool) {
					return "happy to help", true
				},
				Quote: func(_ context.Context, prompt *types.Prompt) ([]types.Invoice, string, error) {
					results, _ := rag.Search(docstoreID, pseudoEmbed(prompt.Content), 1, ragindex.SearchOptions{})
					if len(results) == 0 {
						return nil, types.InvoiceReasonNoKnowledge, nil
					}
					return []types.Invoice{{Method: "lightning", Unit: "sat", AmountSats: priceSats}}, "", nil
				},
				Answer: answer,
			})
			x.Listen(ctx)
			defer x.Close()

			log.Infow("expert listening", "pubkey", signer.Pubkey().String(), "relays", relays)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "listen relay URIs (defaults to $DISCOVERY_RELAYS)")
	cmd.Flags().StringSliceVar(&hashtags, "hashtag", nil, "hashtags to bid on (empty matches every ask)")
	cmd.Flags().StringVar(&docstoreID, "docstore", "", "docstore id backing this expert's RAG context")
	cmd.Flags().Int64Var(&priceSats, "price-sats", 10, "flat quote price in sats")
	return cmd
}

func directAnswerFunc(rag *ragindex.RagIndex, docstoreID string) protocol.AnswerFunc {
	return func(_ context.Context, prompt *types.Prompt, _ *types.Quote) (string, error) {
		return ragAnswer(rag, docstoreID, prompt.Content), nil
	}
}

func openRouterAnswerFunc(cfg *cliConfig, rag *ragindex.RagIndex, docstoreID string) protocol.AnswerFunc {
	return func(ctx context.Context, prompt *types.Prompt, _ *types.Quote) (string, error) {
		context_ := ragAnswer(rag, docstoreID, prompt.Content)
		return openRouterComplete(ctx, cfg, context_, prompt.Content)
	}
}

// newExpertWorkerCmd dials a scheduler's duplex session as a worker,
// accepting every dispatched job and running a short-lived Expert bound
// to the per-job ephemeral identity the scheduler hands over.
func newExpertWorkerCmd(cfg *cliConfig) *cobra.Command {
	var schedulerURL, schedulerPubkeyHex string
	var expertTypes []string
	var jobTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Connect to a scheduler and serve dispatched jobs",
		RunE: func(c *cobra.Command, args []string) error {
			if schedulerURL == "" {
				return fmt.Errorf("--scheduler-url is required")
			}
			schedulerPubkey, err := types.HexStringToHexBytes(schedulerPubkeyHex)
			if err != nil {
				return fmt.Errorf("invalid --scheduler-pubkey: %w", err)
			}
			signer, err := cfg.loadOrCreateSigner()
			if err != nil {
				return err
			}

			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			rag := ragindex.New(database)

			ctx, cancel := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			relays := cfg.DiscoveryRelays
			pool := transport.NewPool(ctx, transport.PoolConfig{})
			defer pool.Close()

			session := scheduler.Dial(ctx, scheduler.WorkerSessionConfig{
				SchedulerURL:    schedulerURL,
				Signer:          signer,
				SchedulerPubkey: schedulerPubkey,
				ExpertTypes:     expertTypes,
				OnDispatch: func(job *scheduler.Job) bool {
					go runDispatchedJob(ctx, job, relays, pool, rag, jobTimeout)
					return true
				},
			})
			defer session.Close()

			log.Infow("worker connected", "scheduler", schedulerURL, "expertTypes", expertTypes)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&schedulerURL, "scheduler-url", "", "scheduler's /workers websocket URL")
	cmd.Flags().StringVar(&schedulerPubkeyHex, "scheduler-pubkey", "", "scheduler's identity pubkey (hex)")
	cmd.Flags().StringSliceVar(&expertTypes, "type", []string{"general"}, "expert types this worker serves")
	cmd.Flags().DurationVar(&jobTimeout, "job-timeout", time.Minute, "how long to keep one dispatched job's Expert listening")
	return cmd
}

// runDispatchedJob builds a short-lived Expert bound to job's ephemeral
// per-job identity and lets it run ListenRelays for a bounded window,
// long enough to quote and answer the one Prompt the scheduler dispatched
// it for.
func runDispatchedJob(ctx context.Context, job *scheduler.Job, relays []string, pool *transport.Pool, rag *ragindex.RagIndex, timeout time.Duration) {
	signer, err := codec.NewSignerFromHex(job.ExpertPrivkey.Hex())
	if err != nil {
		log.Warnw("dispatched job has an unusable ephemeral key", "promptId", job.PromptID.String(), "error", err)
		return
	}

	docstoreID := ""
	if len(job.DocstoreRefs) > 0 {
		docstoreID = job.DocstoreRefs[0]
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	x := protocol.NewExpert(protocol.ExpertConfig{
		Signer:       signer,
		Pool:         pool,
		ListenRelays: relays,
		Quote: func(_ context.Context, prompt *types.Prompt) ([]types.Invoice, string, error) {
			if docstoreID == "" {
				return nil, types.InvoiceReasonNoKnowledge, nil
			}
			return []types.Invoice{{Method: "lightning", Unit: "sat", AmountSats: 10}}, "", nil
		},
		Answer: directAnswerFunc(rag, docstoreID),
	})
	x.Listen(jobCtx)
	defer x.Close()
	<-jobCtx.Done()
}

// newExpertNostrCmd publishes this expert's discovery profile (kind
// 10174) to the discovery relays, the way a client's find_experts would
// expect to see one advertised.
func newExpertNostrCmd(cfg *cliConfig) *cobra.Command {
	var relays []string
	var name, description string
	var hashtags []string

	cmd := &cobra.Command{
		Use:   "nostr",
		Short: "Publish this expert's profile event to discovery relays",
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
			tags := types.Tags{{"d", signer.Pubkey().String()}, {"name", name}}
			for _, h := range hashtags {
				tags = append(tags, types.Tag{"t", h})
			}
			unsigned := types.Event{
				CreatedAt: time.Now().Unix(),
				Kind:      types.KindExpertProfile,
				Tags:      tags,
				Content:   description,
			}
			signed, err := codec.Sign(signer, unsigned)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
			defer cancel()
			pool := transport.NewPool(ctx, transport.PoolConfig{})
			defer pool.Close()
			acked, err := pool.Publish(signed, relays, 10*time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("published %s to %d relay(s)\n", signed.ID.String(), len(acked))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "relay URIs (defaults to $DISCOVERY_RELAYS)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "profile description")
	cmd.Flags().StringSliceVar(&hashtags, "hashtag", nil, "hashtags this expert listens on")
	return cmd
}
