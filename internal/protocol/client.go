// Package protocol is the boundary with the vendor messaging SDK. The SDK is
// an external collaborator: this package only defines the surface the sync
// engine consumes, plus a loopback driver for development and tests.
package protocol

import (
	"context"
	"errors"
	"time"
)

// ErrRejected marks a send the protocol refused permanently; the pipeline
// flips the message to error status instead of retrying it forever.
var ErrRejected = errors.New("message rejected by protocol")

// ConsentState is the per-peer consent classification.
type ConsentState string

const (
	ConsentUnknown ConsentState = "unknown"
	ConsentAllowed ConsentState = "allowed"
	ConsentDenied  ConsentState = "denied"
)

// ConsentEntryType selects what a consent entry applies to.
type ConsentEntryType string

const (
	ConsentEntryAddress ConsentEntryType = "address"
	ConsentEntryTopic   ConsentEntryType = "topic"
)

// Conversation is a protocol-delivered conversation.
type Conversation struct {
	Topic           string
	PeerAddress     string
	GroupMembers    []string
	IsGroup         bool
	CreatedAt       time.Time
	ContextID       string
	ContextMetadata map[string]string
	Version         string
}

// Message is a protocol-delivered message.
type Message struct {
	ID                  string
	Topic               string
	SenderAddress       string
	Sent                time.Time
	Content             string
	ContentType         string
	ContentFallback     string
	ReferencedMessageID string
}

// SendReceipt carries the canonical id and timestamp the protocol assigned to
// a dispatched message.
type SendReceipt struct {
	ID   string
	Sent time.Time
}

// Client is the per-account handle into the messaging SDK.
type Client interface {
	Address() string
	ListConversations(ctx context.Context) ([]Conversation, error)
	StreamConversations(ctx context.Context) (<-chan Conversation, error)
	StreamMessages(ctx context.Context) (<-chan Message, error)
	CreateConversation(ctx context.Context, peerAddress, contextID string, metadata map[string]string) (Conversation, error)
	Send(ctx context.Context, topic, content, contentType, referencedMessageID string) (SendReceipt, error)
	SetConsentState(ctx context.Context, value string, entryType ConsentEntryType, state ConsentState) error
	ConsentList(ctx context.Context) (map[string]ConsentState, error)
	Close() error
}

// Factory builds a protocol client for a logged-in account.
type Factory interface {
	NewClient(ctx context.Context, account string) (Client, error)
}
