package main

import (
	"cmp"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/db"
	"github.com/askexperts/askexperts/db/dbfactory"
)

// defaultDataDir is where the local db.Database, identity and .env file
// live when $ASKX_HOME is unset, mirroring a single-datadir convention
// scoped to this user's home.
func defaultDataDir() string {
	if dir := os.Getenv("ASKX_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".askexperts"
	}
	return filepath.Join(home, ".askexperts")
}

// cliConfig is the environment- and flag-derived configuration shared by
// every subcommand: the persistent flags plus the
// environment variables this process persists state through. Loaded
// once in the root command's PersistentPreRunE.
type cliConfig struct {
	// Persistent flags.
	Debug  bool
	Remote bool
	URL    string

	// Environment variables.
	Port            string
	ParentURL       string
	ParentToken     string
	MCPServerID     string
	DiscoveryRelays []string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	ChromaHost      string
	ChromaPort      string
	DocstoreURL     string
	NWCString       string
	OpenRouterKey   string
	OpenRouterBaseURL string

	dataDir string
}

// load reads .env (if present) into the process environment, then resolves
// every configuration field from os.Getenv, reading connection strings
// from the environment rather than requiring every flag to be passed
// explicitly.
func (c *cliConfig) load() error {
	c.dataDir = defaultDataDir()
	_ = os.MkdirAll(c.dataDir, 0o700)

	envPath := filepath.Join(c.dataDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return err
		}
	}

	c.Port = cmp.Or(os.Getenv("PORT"), "8080")
	c.ParentURL = os.Getenv("PARENT_URL")
	c.ParentToken = os.Getenv("PARENT_TOKEN")
	c.MCPServerID = os.Getenv("MCP_SERVER_ID")
	if relays := os.Getenv("DISCOVERY_RELAYS"); relays != "" {
		for _, r := range strings.Split(relays, ",") {
			if r = strings.TrimSpace(r); r != "" {
				c.DiscoveryRelays = append(c.DiscoveryRelays, r)
			}
		}
	}
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	c.ChromaHost = os.Getenv("CHROMA_HOST")
	c.ChromaPort = os.Getenv("CHROMA_PORT")
	c.DocstoreURL = os.Getenv("DOCSTORE_URL")
	c.NWCString = os.Getenv("NWC_STRING")
	c.OpenRouterKey = os.Getenv("OPENROUTER_API_KEY")
	c.OpenRouterBaseURL = os.Getenv("OPENROUTER_BASE_URL")

	if c.Remote && c.URL == "" {
		c.URL = c.ParentURL
	}
	return nil
}

// portNumber parses c.Port, defaulting to 8080 on garbage input.
func (c *cliConfig) portNumber() int {
	n, err := strconv.Atoi(c.Port)
	if err != nil || n <= 0 {
		return 8080
	}
	return n
}

// openDB opens this process's local database, rooted at dataDir/db.
func (c *cliConfig) openDB() (db.Database, error) {
	return dbfactory.New(db.TypePebble, filepath.Join(c.dataDir, "db"))
}

// identityPath is where this process's persistent Nostr keypair lives.
func (c *cliConfig) identityPath() string {
	return filepath.Join(c.dataDir, "identity.hex")
}

// loadOrCreateSigner loads the persistent local identity, generating and
// persisting a fresh one on first run — the CLI's analogue of the admin
// API's Signer, since every command that talks to relays or signs
// admin requests needs a stable keypair across invocations.
func (c *cliConfig) loadOrCreateSigner() (*codec.Signer, error) {
	path := c.identityPath()
	data, err := os.ReadFile(path)
	if err == nil {
		return codec.NewSignerFromHex(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	signer, err := codec.NewSigner()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(signer.HexPrivateKey().Hex()), 0o600); err != nil {
		return nil, err
	}
	return signer, nil
}
