package main

import (
	"context"

	"github.com/askexperts/askexperts/transport"
	"github.com/askexperts/askexperts/types"
)

// newDiscoveryPool builds a transport.Pool whose connections all close
// when ctx is done, shared by stream send/receive and docstore import
// nostr; chat and the expert subcommands call transport.NewPool directly.
func newDiscoveryPool(ctx context.Context) *transport.Pool {
	return transport.NewPool(ctx, transport.PoolConfig{})
}

// poolCallbacks adapts a plain per-event callback to transport.Callbacks.
func poolCallbacks(onEvent func(e *types.Event)) transport.Callbacks {
	return transport.Callbacks{OnEvent: func(_ string, e *types.Event) { onEvent(e) }}
}
