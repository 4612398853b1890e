package protocol

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoopbackClient is an in-process protocol driver: topics and message ids are
// assigned locally in the protocol's format, nothing leaves the device. It
// backs local development and tests, the same way the event publisher falls
// back to a noop when AMQP is unconfigured.
type LoopbackClient struct {
	address string

	mu            sync.Mutex
	conversations map[string]Conversation
	consent       map[string]ConsentState
	convSubs      []chan Conversation
	msgSubs       []chan Message
	closed        bool
}

// LoopbackFactory builds LoopbackClients.
type LoopbackFactory struct{}

func (LoopbackFactory) NewClient(_ context.Context, account string) (Client, error) {
	return NewLoopbackClient(account), nil
}

// NewLoopbackClient constructs a loopback client for the account.
func NewLoopbackClient(address string) *LoopbackClient {
	return &LoopbackClient{
		address:       address,
		conversations: make(map[string]Conversation),
		consent:       make(map[string]ConsentState),
	}
}

func (c *LoopbackClient) Address() string { return c.address }

func (c *LoopbackClient) ListConversations(_ context.Context) ([]Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	convs := make([]Conversation, 0, len(c.conversations))
	for _, conv := range c.conversations {
		convs = append(convs, conv)
	}
	return convs, nil
}

func (c *LoopbackClient) StreamConversations(_ context.Context) (<-chan Conversation, error) {
	ch := make(chan Conversation, 16)
	c.mu.Lock()
	c.convSubs = append(c.convSubs, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *LoopbackClient) StreamMessages(_ context.Context) (<-chan Message, error) {
	ch := make(chan Message, 64)
	c.mu.Lock()
	c.msgSubs = append(c.msgSubs, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *LoopbackClient) CreateConversation(_ context.Context, peerAddress, contextID string, metadata map[string]string) (Conversation, error) {
	if c.isClosed() {
		return Conversation{}, errors.New("loopback client closed")
	}
	conv := Conversation{
		Topic:           "/chat/dm-" + uuid.NewString(),
		PeerAddress:     peerAddress,
		CreatedAt:       time.Now().UTC(),
		ContextID:       contextID,
		ContextMetadata: metadata,
		Version:         "v2",
	}
	c.mu.Lock()
	c.conversations[conv.Topic] = conv
	subs := append([]chan Conversation(nil), c.convSubs...)
	c.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub <- conv:
		default:
		}
	}
	return conv, nil
}

func (c *LoopbackClient) Send(_ context.Context, topic, content, contentType, referencedMessageID string) (SendReceipt, error) {
	if c.isClosed() {
		return SendReceipt{}, errors.New("loopback client closed")
	}
	return SendReceipt{ID: newWireID(), Sent: time.Now().UTC()}, nil
}

func (c *LoopbackClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *LoopbackClient) SetConsentState(_ context.Context, value string, entryType ConsentEntryType, state ConsentState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Addresses and topics never collide, so one map keyed by value serves
	// both entry types.
	c.consent[value] = state
	return nil
}

func (c *LoopbackClient) ConsentList(_ context.Context) (map[string]ConsentState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ConsentState, len(c.consent))
	for key, state := range c.consent {
		out[key] = state
	}
	return out, nil
}

// Deliver injects an inbound message into every open message stream; test
// hook standing in for the network.
func (c *LoopbackClient) Deliver(msg Message) {
	c.mu.Lock()
	subs := append([]chan Message(nil), c.msgSubs...)
	c.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub <- msg:
		default:
		}
	}
}

// Announce injects a conversation into every open conversation stream.
func (c *LoopbackClient) Announce(conv Conversation) {
	c.mu.Lock()
	c.conversations[conv.Topic] = conv
	subs := append([]chan Conversation(nil), c.convSubs...)
	c.mu.Unlock()
	for _, sub := range subs {
		select {
		case sub <- conv:
		default:
		}
	}
}

func (c *LoopbackClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, sub := range c.convSubs {
		close(sub)
	}
	for _, sub := range c.msgSubs {
		close(sub)
	}
	c.convSubs = nil
	c.msgSubs = nil
	return nil
}

func newWireID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return "0x" + hex.EncodeToString(buf)
}
