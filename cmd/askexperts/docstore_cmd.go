package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/docstore"
	"github.com/askexperts/askexperts/ragindex"
	"github.com/askexperts/askexperts/types"
)

const pseudoVectorSize = 8

// pseudoEmbed stands in for the injected embedding model (a Non-goal per
// the embedding model is an external collaborator this binary doesn't
// implement) with a deterministic hash-derived vector, so the rest of
// the RAG pipeline (storage, search, ranking) stays exercisable offline.
func pseudoEmbed(content string) types.Float32Vector {
	sum := sha256.Sum256([]byte(content))
	vec := make(types.Float32Vector, pseudoVectorSize)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255
	}
	return vec
}

func newDocstoreCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{Use: "docstore", Short: "Manage document stores and their RAG index"}

	var model string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a docstore",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			ds := docstore.New(database)
			id, err := ds.CreateDocstore(args[0], model, pseudoVectorSize, nil)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	create.Flags().StringVar(&model, "model", "pseudo-embed", "embedding model name recorded on the docstore")
	cmd.AddCommand(create)

	add := &cobra.Command{
		Use:   "add <docstore-id> <text>",
		Short: "Add a document (chunked and embedded) to a docstore",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			ds := docstore.New(database)
			rag := ragindex.New(database)
			return addChunkedDoc(ds, rag, args[0], args[1])
		},
	}
	cmd.AddCommand(add)

	var limit int
	search := &cobra.Command{
		Use:   "search <docstore-id> <query>",
		Short: "Search a docstore's RAG index for the closest chunks to query",
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

	importCmd := &cobra.Command{Use: "import", Short: "Import documents into a docstore"}
	importCmd.AddCommand(newImportMarkdownCmd(cfg))
	importCmd.AddCommand(newImportDirCmd(cfg))
	importCmd.AddCommand(newImportNostrCmd(cfg))
	cmd.AddCommand(importCmd)

	return cmd
}

// addChunkedDoc splits text into paragraph chunks (blank-line separated,
// the plain-text convention every markdown/dir import below also uses),
// embeds each with pseudoEmbed, upserts the document and mirrors its
// chunks into the docstore's RAG collection.
func addChunkedDoc(ds *docstore.DocStore, rag *ragindex.RagIndex, docstoreID, text string) error {
	chunks := paragraphChunks(text)
	vectors := make([]types.Float32Vector, len(chunks))
	for i, c := range chunks {
		vectors[i] = pseudoEmbed(c)
	}
	doc := &types.Document{
		ID:         uuid.NewString(),
		DocstoreID: docstoreID,
		Timestamp:  time.Now(),
		Type:       "text",
		Data:       []byte(text),
		Embeddings: vectors,
	}
	if err := ds.Upsert(doc); err != nil {
		return err
	}

	entries := make([]*types.RagEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = &types.RagEntry{
			ID:       fmt.Sprintf("%s-%d", doc.ID, i),
			Vector:   vectors[i],
			Metadata: map[string]string{"doc_id": doc.ID},
			Data:     []byte(c),
		}
	}
	return rag.StoreBatch(docstoreID, entries)
}

func paragraphChunks(text string) []string {
	var chunks []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			chunks = append(chunks, p)
		}
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	return chunks
}

func newImportMarkdownCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "markdown <docstore-id> <file>",
		Short: "Import a single markdown/text file, paragraph-chunked",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			return addChunkedDoc(docstore.New(database), ragindex.New(database), args[0], string(data))
		},
	}
}

func newImportDirCmd(cfg *cliConfig) *cobra.Command {
	var ext string
	c := &cobra.Command{
		Use:   "dir <docstore-id> <directory>",
		Short: "Import every matching file in a directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			ds := docstore.New(database)
			rag := ragindex.New(database)
			return filepath.WalkDir(args[1], func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() || filepath.Ext(path) != ext {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				return addChunkedDoc(ds, rag, args[0], string(data))
			})
		},
	}
	c.Flags().StringVar(&ext, "ext", ".md", "file extension to import")
	return c
}

func newImportNostrCmd(cfg *cliConfig) *cobra.Command {
	var relays []string
	var duration time.Duration
	c := &cobra.Command{
		Use:   "nostr <docstore-id>",
		Short: "Import event content streamed from discovery relays for a bounded window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(relays) == 0 {
				relays = cfg.DiscoveryRelays
			}
			if len(relays) == 0 {
				return fmt.Errorf("no relays: pass --relay or set $DISCOVERY_RELAYS")
			}
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			ds := docstore.New(database)
			rag := ragindex.New(database)

			pool := newDiscoveryPool(cmd.Context())
			defer pool.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			done := make(chan struct{})
			sub := pool.Subscribe(nil, relays, poolCallbacks(func(e *types.Event) {
				if e.Content == "" {
					return
				}
				_ = addChunkedDoc(ds, rag, args[0], e.Content)
			}))
			defer sub.Close()

			go func() { <-ctx.Done(); close(done) }()
			<-done
			return nil
		},
	}
	c.Flags().StringSliceVar(&relays, "relay", nil, "relay URIs to import from (defaults to $DISCOVERY_RELAYS)")
	c.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to listen before stopping")
	return c
}
