package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"messenger-sync/internal/models"
	"messenger-sync/internal/observability"
	"messenger-sync/internal/protocol"
)

// SendOptions carries the optional extras of an outbound message.
type SendOptions struct {
	ReferencedMessageID string
	// AttachmentPath points at a staged attachment file to adopt into the
	// cache under the new message's id.
	AttachmentPath string
}

// transactionReference is the decoded payload of a transaction-reference
// message; the record is cached locally so the UI renders it without a
// network round trip.
type transactionReference struct {
	Namespace string `json:"namespace"`
	Reference string `json:"reference"`
}

// SendMessage queues a message optimistically: it lands in the store and the
// reactive state immediately under a local id with sending status, and the
// flusher dispatches it. The conversation may still be pending; dispatch then
// waits for the conversation to materialize first.
func (e *Engine) SendMessage(ctx context.Context, account, topic, content, contentType string, opts SendOptions) (models.Message, error) {
	store, ok := e.registry.Store(account)
	if !ok {
		return models.Message{}, fmt.Errorf("account %s not registered", account)
	}
	conv, err := e.convRepo.GetConversation(ctx, topic)
	if err != nil {
		return models.Message{}, fmt.Errorf("conversation %s: %w", topic, err)
	}

	msg := models.Message{
		ID:                  uuid.NewString(),
		ConversationTopic:   topic,
		Account:             account,
		SenderAddress:       account,
		Sent:                time.Now().UTC(),
		Content:             content,
		ContentType:         contentType,
		Kind:                models.ResolveContentKind(contentType),
		Status:              models.StatusSending,
		ReferencedMessageID: opts.ReferencedMessageID,
	}

	if opts.AttachmentPath != "" && e.attachments != nil {
		if _, err := e.attachments.PromotePending(opts.AttachmentPath, msg.ID); err != nil {
			return models.Message{}, err
		}
	}
	if msg.Kind == models.KindTransactionReference && e.attachments != nil {
		var ref transactionReference
		if err := json.Unmarshal([]byte(content), &ref); err == nil && ref.Reference != "" {
			if err := e.attachments.CacheTransaction(ref.Namespace, ref.Reference, json.RawMessage(content)); err != nil {
				log.Printf("transaction cache failed ref=%s: %v", ref.Reference, err)
			}
		}
	}

	if err := e.msgRepo.UpsertMessages(ctx, []models.Message{msg}); err != nil {
		return models.Message{}, fmt.Errorf("queue message: %w", err)
	}
	store.UpsertMessages(topic, []models.Message{msg})
	e.broadcast(account, models.StoreEvent{
		Type:    models.EventMessageUpserted,
		Topic:   topic,
		Message: &msg,
	})
	e.audit.Emit(ctx, "INFO", fmt.Sprintf("message queued kind=%s topic=%s", msg.Kind, topic), "", account)

	if !conv.Pending {
		e.KickFlusher()
	}
	return msg, nil
}

// StartConversation creates a local pending conversation for a peer, reusing
// an existing pending one for the same (peer, context) pair.
func (e *Engine) StartConversation(ctx context.Context, account, peerAddress, contextID string, metadata map[string]string) (models.Conversation, error) {
	store, ok := e.registry.Store(account)
	if !ok {
		return models.Conversation{}, fmt.Errorf("account %s not registered", account)
	}

	if existing, err := e.convRepo.FindByPeer(ctx, account, peerAddress, contextID, false); err == nil {
		return existing, nil
	}
	if existing, err := e.convRepo.FindByPeer(ctx, account, peerAddress, contextID, true); err == nil {
		return existing, nil
	}

	conv := models.NewPendingConversation(account, peerAddress, contextID, metadata)
	if err := e.convRepo.UpsertConversations(ctx, []models.Conversation{conv}); err != nil {
		return models.Conversation{}, fmt.Errorf("create pending conversation: %w", err)
	}
	store.SetConversations([]models.Conversation{conv})
	e.broadcast(account, models.StoreEvent{
		Type:         models.EventConversationUpserted,
		Topic:        conv.Topic,
		Conversation: &conv,
	})
	return conv, nil
}

// SetConsent records a consent decision locally and forwards it to the
// protocol so other installations converge.
func (e *Engine) SetConsent(ctx context.Context, account, peerAddress string, consent protocol.ConsentState) error {
	store, ok := e.registry.Store(account)
	if !ok {
		return fmt.Errorf("account %s not registered", account)
	}
	store.SetPeerConsent(peerAddress, consent)
	client, ok := e.registry.Client(account)
	if !ok {
		return nil
	}
	if err := client.SetConsentState(ctx, peerAddress, protocol.ConsentEntryAddress, consent); err != nil {
		return fmt.Errorf("propagate consent: %w", err)
	}
	return nil
}

// KickFlusher nudges the flusher outside its tick; safe before Start.
func (e *Engine) KickFlusher() {
	if e.flusherKick == nil {
		return
	}
	select {
	case e.flusherKick <- struct{}{}:
	default:
	}
}

// Flusher drains the send queue once per interval. A pass first materializes
// pending conversations that have queued messages, then dispatches everything
// in sending status in timestamp order. Dispatch failures stay queued and are
// retried on the next pass forever, except a permanent protocol rejection,
// which settles the message in error status.
type Flusher struct {
	engine   *Engine
	interval time.Duration

	// CleanupInterval is how often a flush pass also garbage-collects
	// pending conversations that never got a message queued. Set it before
	// calling Run.
	CleanupInterval time.Duration

	running     chan struct{}
	inFlight    map[string]struct{}
	lastCleanup time.Time
}

const defaultPendingCleanupInterval = 5 * time.Minute

func NewFlusher(engine *Engine, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = time.Second
	}
	f := &Flusher{
		engine:          engine,
		interval:        interval,
		CleanupInterval: defaultPendingCleanupInterval,
		running:         make(chan struct{}, 1),
		inFlight:        make(map[string]struct{}),
		lastCleanup:     time.Now(),
	}
	engine.flusherKick = make(chan struct{}, 1)
	return f
}

// Run blocks until ctx is done, flushing on every tick and on every kick.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Flush(ctx)
		case <-f.engine.flusherKick:
			f.Flush(ctx)
		}
	}
}

// Flush runs one pass over all accounts. Overlapping passes collapse: if one
// is already running the call returns immediately.
func (f *Flusher) Flush(ctx context.Context) {
	select {
	case f.running <- struct{}{}:
	default:
		return
	}
	defer func() { <-f.running }()

	cleanup := time.Since(f.lastCleanup) >= f.CleanupInterval
	if cleanup {
		f.lastCleanup = time.Now()
	}

	start := time.Now()
	for _, account := range f.engine.registry.Accounts() {
		f.flushAccount(ctx, account)
		if cleanup {
			if err := f.engine.CleanupPendingConversations(ctx, account); err != nil {
				log.Printf("flush: cleanup pending for %s: %v", account, err)
			}
		}
	}
	observability.ObserveFlush(time.Since(start))
}

func (f *Flusher) flushAccount(ctx context.Context, account string) {
	client, ok := f.engine.registry.Client(account)
	if !ok {
		log.Printf("flush: no protocol client for %s, skipping", account)
		return
	}

	f.materializePending(ctx, account, client)

	queue, err := f.engine.msgRepo.ListMessagesToSend(ctx, account)
	if err != nil {
		log.Printf("flush: list queue for %s: %v", account, err)
		return
	}
	observability.SetSendQueueDepth(len(queue))

	for _, msg := range queue {
		if _, busy := f.inFlight[msg.ID]; busy {
			continue
		}
		f.inFlight[msg.ID] = struct{}{}
		f.dispatch(ctx, account, client, msg)
		delete(f.inFlight, msg.ID)
	}
}

// materializePending asks the protocol to create real conversations for
// pending ones that have at least one queued message, then rewrites the local
// topic to the protocol-assigned one.
func (f *Flusher) materializePending(ctx context.Context, account string, client protocol.Client) {
	pending, err := f.engine.convRepo.ListPendingConversations(ctx, account)
	if err != nil {
		log.Printf("flush: list pending for %s: %v", account, err)
		return
	}
	for _, conv := range pending {
		if !conv.Pending {
			log.Printf("flush: refusing to materialize settled conversation %s", conv.Topic)
			continue
		}
		count, err := f.engine.msgRepo.CountMessages(ctx, conv.Topic)
		if err != nil || count == 0 {
			continue
		}

		created, err := client.CreateConversation(ctx, conv.PeerAddress, conv.ContextID, conv.ContextMetadata)
		if err != nil {
			log.Printf("flush: materialize %s failed: %v", conv.Topic, err)
			continue
		}
		if err := f.engine.convRepo.PromoteConversation(ctx, conv.Topic, created.Topic, created.Version); err != nil {
			log.Printf("flush: promote %s -> %s failed: %v", conv.Topic, created.Topic, err)
			continue
		}

		settled := mapConversation(account, created)
		settled.ReadUntil = conv.ReadUntil
		if store, ok := f.engine.registry.Store(account); ok {
			store.RenameConversation(conv.Topic, settled)
		}
		f.engine.broadcast(account, models.StoreEvent{
			Type:  models.EventConversationRemoved,
			Topic: conv.Topic,
		})
		f.engine.broadcast(account, models.StoreEvent{
			Type:         models.EventConversationUpserted,
			Topic:        settled.Topic,
			Conversation: &settled,
		})
		log.Printf("flush: conversation %s materialized as %s", conv.Topic, settled.Topic)
	}
}

func (f *Flusher) dispatch(ctx context.Context, account string, client protocol.Client, msg models.Message) {
	receipt, err := client.Send(ctx, msg.ConversationTopic, msg.Content, msg.ContentType, msg.ReferencedMessageID)
	if err != nil {
		if errors.Is(err, protocol.ErrRejected) {
			observability.IncSendAttempt("rejected")
			log.Printf("flush: message %s rejected: %v", msg.ID, err)
			if serr := f.engine.msgRepo.SetMessageStatus(ctx, msg.ID, models.StatusError); serr != nil {
				log.Printf("flush: mark error %s: %v", msg.ID, serr)
				return
			}
			if store, ok := f.engine.registry.Store(account); ok {
				store.SetMessageStatus(msg.ConversationTopic, msg.ID, models.StatusError)
			}
			f.engine.broadcast(account, models.StoreEvent{
				Type:      models.EventMessageStatus,
				Topic:     msg.ConversationTopic,
				MessageID: msg.ID,
				Status:    models.StatusError,
			})
			return
		}
		observability.IncSendAttempt("retry")
		log.Printf("flush: message %s failed, will retry: %v", msg.ID, err)
		return
	}

	if err := f.engine.UpdateMessageID(ctx, account, msg.ConversationTopic, msg.ID, receipt); err != nil {
		log.Printf("flush: renumber %s: %v", msg.ID, err)
		return
	}
	if err := f.engine.MarkMessageAsSent(ctx, account, msg.ConversationTopic, receipt.ID); err != nil {
		log.Printf("flush: settle %s: %v", receipt.ID, err)
		return
	}
	observability.IncSendAttempt("sent")
}
