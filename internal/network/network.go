// Package network implements the swarm's mailbox layer: one unbounded
// mailbox per agent plus a shared broadcast channel. The network is the sole
// mutator of mailbox contents; envelopes are mirrored onto the NATS bus so
// external observers can follow the traffic.
package network

import (
	"log/slog"
	"sync"
	"time"

	"github.com/apiarist/apiary/internal/bus"
	"github.com/google/uuid"
)

// Envelope is one delivered message.
type Envelope struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Payload   any       `json:"payload"`
	SentAt    time.Time `json:"sent_at"`
	Broadcast bool      `json:"broadcast,omitempty"`
}

type mailbox struct {
	mu   sync.Mutex
	msgs []Envelope
}

// Network holds the mailboxes and the broadcast log. Broadcast envelopes are
// never removed by a drain; each agent tracks a read cursor instead, so every
// agent sees each broadcast exactly once.
type Network struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	broadcast []Envelope
	cursors   map[string]int
	client    *bus.Client // optional mirror; nil in tests
}

// New creates a Network. client may be nil, in which case envelopes are only
// kept in-process.
func New(client *bus.Client) *Network {
	return &Network{
		mailboxes: make(map[string]*mailbox),
		cursors:   make(map[string]int),
		client:    client,
	}
}

// Register creates an empty mailbox for the agent. Registering twice is a
// no-op. The broadcast cursor starts at the current end of the log, so a new
// agent does not replay history.
func (n *Network) Register(agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.mailboxes[agentID]; ok {
		return
	}
	n.mailboxes[agentID] = &mailbox{}
	n.cursors[agentID] = len(n.broadcast)
}

// Unregister drops the agent's mailbox and cursor.
func (n *Network) Unregister(agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.mailboxes, agentID)
	delete(n.cursors, agentID)
}

// Send appends a timestamped envelope to the recipient's mailbox. Sending to
// an unknown agent is a no-op.
func (n *Network) Send(from, to string, payload any) {
	n.mu.RLock()
	mb, ok := n.mailboxes[to]
	n.mu.RUnlock()
	if !ok {
		slog.Debug("dropping message to unknown agent", "from", from, "to", to)
		return
	}

	env := Envelope{
		ID:      uuid.New().String(),
		From:    from,
		To:      to,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}

	mb.mu.Lock()
	mb.msgs = append(mb.msgs, env)
	mb.mu.Unlock()

	n.mirror(bus.TopicMailbox(to), env)
}

// Broadcast appends an envelope to the shared channel. Every registered
// agent except the sender will see it on its next drain.
func (n *Network) Broadcast(from string, payload any) {
	env := Envelope{
		ID:        uuid.New().String(),
		From:      from,
		Payload:   payload,
		SentAt:    time.Now().UTC(),
		Broadcast: true,
	}

	n.mu.Lock()
	n.broadcast = append(n.broadcast, env)
	n.mu.Unlock()

	n.mirror(bus.TopicMailBroadcast, env)
}

// Drain atomically empties the agent's mailbox and returns it together with
// the broadcast envelopes the agent has not yet seen, excluding its own.
// Draining an unknown agent returns nil; draining twice in a row on an empty
// mailbox returns empty both times.
func (n *Network) Drain(agentID string) []Envelope {
	n.mu.Lock()
	mb, ok := n.mailboxes[agentID]
	if !ok {
		n.mu.Unlock()
		return nil
	}
	cursor := n.cursors[agentID]
	pending := n.broadcast[cursor:]
	n.cursors[agentID] = len(n.broadcast)
	n.mu.Unlock()

	mb.mu.Lock()
	out := mb.msgs
	mb.msgs = nil
	mb.mu.Unlock()

	for _, env := range pending {
		if env.From == agentID {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Pending reports the number of direct messages waiting for the agent.
func (n *Network) Pending(agentID string) int {
	n.mu.RLock()
	mb, ok := n.mailboxes[agentID]
	n.mu.RUnlock()
	if !ok {
		return 0
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.msgs)
}

func (n *Network) mirror(topic string, env Envelope) {
	if n.client == nil {
		return
	}
	if err := n.client.PublishJSON(topic, env); err != nil {
		slog.Warn("failed to mirror envelope to bus", "topic", topic, "error", err)
	}
}
