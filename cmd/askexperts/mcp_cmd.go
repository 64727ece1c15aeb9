package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/ragindex"
)

// mcpRequest/mcpResponse are a minimal JSON-RPC envelope for the `mcp`
// surface: no MCP SDK appears anywhere in this module's dependency corpus,
// so rather than fabricate one, this speaks newline-delimited JSON-RPC
// directly over stdio and exposes exactly the two tools a local agent
// needs against this binary's RAG state (search, run). A real MCP client
// library can be layered over this same tool set later without touching
// docstore/ragindex.
type mcpRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		Name      string `json:"name"`
		Docstore  string `json:"docstore"`
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
	} `json:"params"`
}

type mcpResponse struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// newMCPCmd builds `mcp`: a stdio JSON-RPC loop exposing this process's
// docstore/RAG state as tools, the shape the CLI surface names without
// pulling in an MCP framework this corpus never imports.
func newMCPCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve docstore search as MCP-style tools over stdio",
		RunE: func(c *cobra.Command, args []string) error {
			database, err := cfg.openDB()
			if err != nil {
				return err
			}
			defer database.Close()
			rag := ragindex.New(database)

			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
			enc := json.NewEncoder(os.Stdout)

			for scanner.Scan() {
				var req mcpRequest
				if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
					_ = enc.Encode(mcpResponse{Error: err.Error()})
					continue
				}
				resp := mcpResponse{ID: req.ID}
				switch req.Method {
				case "tools/list":
					resp.Result = []string{"search", "run"}
				case "tools/call":
					if req.Params.Limit <= 0 {
						req.Params.Limit = 5
					}
					switch req.Params.Name {
					case "search":
						results, err := rag.Search(req.Params.Docstore, pseudoEmbed(req.Params.Query), req.Params.Limit, ragindex.SearchOptions{})
						if err != nil {
							resp.Error = err.Error()
						} else {
							resp.Result = results
						}
					case "run":
						resp.Result = ragAnswer(rag, req.Params.Docstore, req.Params.Query)
					default:
						resp.Error = fmt.Sprintf("unknown tool %q", req.Params.Name)
					}
				default:
					resp.Error = fmt.Sprintf("unknown method %q", req.Method)
				}
				if err := enc.Encode(resp); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
}
