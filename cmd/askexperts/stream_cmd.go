package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/askexperts/askexperts/codec"
	"github.com/askexperts/askexperts/stream"
	"github.com/askexperts/askexperts/types"
)

// newStreamCmd builds the `stream {create,send,receive}` tree (C3): create
// mints a fresh ephemeral stream identity and prints its pubkey, send
// writes stdin to an existing stream as chunk events, receive reassembles
// a stream's chunks back to stdout.
func newStreamCmd(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{Use: "stream", Short: "Chunked large-payload transport over events (C3)"}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Mint a new ephemeral stream identity",
		RunE: func(c *cobra.Command, args []string) error {
			signer, err := codec.NewSigner()
			if err != nil {
				return err
			}
			fmt.Printf("stream-id: %s\nprivate-key: %s\n", signer.Pubkey().Hex(), signer.HexPrivateKey().Hex())
			return nil
		},
	})

	var relays []string
	send := &cobra.Command{
		Use:   "send <stream-privkey-hex>",
		Short: "Write stdin to the named stream, chunked and compressed",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			signer, err := codec.NewSignerFromHex(args[0])
			if err != nil {
				return err
			}
			if len(relays) == 0 {
				relays = cfg.DiscoveryRelays
			}
			pool := newDiscoveryPool(c.Context())
			defer pool.Close()

			w := stream.NewWriter(stream.WriterConfig{
				Signer:      signer,
				Compression: types.StreamCompressionGzip,
				Relays:      relays,
				Pool:        pool,
			})
			if _, err := io.Copy(writerFunc(w.Write), os.Stdin); err != nil {
				_ = w.Error("io_error", err.Error())
				return err
			}
			return w.Done()
		},
	}
	send.Flags().StringSliceVar(&relays, "relay", nil, "relay URIs (defaults to $DISCOVERY_RELAYS)")
	cmd.AddCommand(send)

	var recvRelays []string
	var ttl time.Duration
	receive := &cobra.Command{
		Use:   "receive <stream-id-hex>",
		Short: "Reassemble a stream's chunks to stdout until done",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			streamID, err := types.HexStringToHexBytes(args[0])
			if err != nil {
				return err
			}
			if len(recvRelays) == 0 {
				recvRelays = cfg.DiscoveryRelays
			}
			pool := newDiscoveryPool(c.Context())
			defer pool.Close()

			ctx, cancel := context.WithCancel(c.Context())
			defer cancel()
			r := stream.NewReader(ctx, stream.ReaderConfig{
				StreamID:    streamID,
				Compression: types.StreamCompressionGzip,
				Relays:      recvRelays,
				Pool:        pool,
				TTL:         ttl,
			})
			defer r.Close()

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()
			for {
				data, done, err := r.Next()
				if len(data) > 0 {
					out.Write(data)
				}
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		},
	}
	receive.Flags().StringSliceVar(&recvRelays, "relay", nil, "relay URIs (defaults to $DISCOVERY_RELAYS)")
	receive.Flags().DurationVar(&ttl, "ttl", stream.DefaultTTL, "time to wait for the next chunk before giving up")
	cmd.AddCommand(receive)

	return cmd
}

// writerFunc adapts a Write(data []byte) error method to io.Writer.
type writerFunc func([]byte) error

func (f writerFunc) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
