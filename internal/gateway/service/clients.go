package service

import (
	"sync"
	"time"

	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
	"github.com/pedrohperalta/openclaw-mission-control/internal/gateway/models"
	"github.com/pedrohperalta/openclaw-mission-control/pkg/gateway/rpc"
)

// Clients caches one websocket client per gateway. A client is rebuilt
// when the stored URL or token changes, so edits to a gateway record
// take effect on the next call.
type Clients struct {
	callTimeout time.Duration
	log         *logger.Logger

	mu      sync.Mutex
	entries map[string]*clientEntry
}

type clientEntry struct {
	url    string
	token  string
	client *rpc.Client
}

// NewClients creates an empty client cache.
func NewClients(callTimeout time.Duration, log *logger.Logger) *Clients {
	return &Clients{callTimeout: callTimeout, log: log, entries: make(map[string]*clientEntry)}
}

// CallerFor returns the cached caller for the gateway, dialing lazily.
func (c *Clients) CallerFor(gateway *models.Gateway) rpc.Caller {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[gateway.ID]
	if ok && entry.url == gateway.URL && entry.token == gateway.Token {
		return entry.client
	}
	if ok {
		entry.client.Close()
	}
	client := rpc.NewClient(rpc.Config{
		URL:         gateway.URL,
		Token:       gateway.Token,
		CallTimeout: c.callTimeout,
	}, c.log.WithGatewayID(gateway.ID))
	c.entries[gateway.ID] = &clientEntry{url: gateway.URL, token: gateway.Token, client: client}
	return client
}

// Drop closes and forgets the client for a deleted gateway.
func (c *Clients) Drop(gatewayID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[gatewayID]; ok {
		entry.client.Close()
		delete(c.entries, gatewayID)
	}
}

// Close shuts every cached connection down.
func (c *Clients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.entries {
		entry.client.Close()
		delete(c.entries, id)
	}
}
