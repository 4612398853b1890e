package syncengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"messenger-sync/internal/protocol"
	"messenger-sync/internal/state"
)

const consentRefreshInterval = time.Minute

// AttachAccount logs an account into the protocol, registers its reactive
// store, runs the initial sync, and starts the stream pumps. The pumps stop
// when the account is removed from the registry or ctx is cancelled.
func (e *Engine) AttachAccount(ctx context.Context, factory protocol.Factory, account string) error {
	streamCtx, cancel := context.WithCancel(ctx)

	client, err := factory.NewClient(streamCtx, account)
	if err != nil {
		cancel()
		return fmt.Errorf("protocol login %s: %w", account, err)
	}
	if _, added := e.registry.AddAccount(account, client, cancel); !added {
		cancel()
		if err := client.Close(); err != nil {
			log.Printf("closing duplicate client for %s: %v", account, err)
		}
		return fmt.Errorf("attach %s: %w", account, state.ErrAccountExists)
	}

	if err := e.initialSync(streamCtx, account, client); err != nil {
		log.Printf("initial sync for %s: %v", account, err)
	}

	go e.pumpConversations(streamCtx, account, client)
	go e.pumpMessages(streamCtx, account, client)
	go e.pumpConsent(streamCtx, account, client)
	return nil
}

func (e *Engine) initialSync(ctx context.Context, account string, client protocol.Client) error {
	convs, err := client.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if err := e.SaveConversations(ctx, account, convs); err != nil {
		return err
	}
	e.refreshConsent(ctx, account, client)
	if err := e.ComputeConversationsSpamScores(ctx, account); err != nil {
		log.Printf("spam scoring for %s: %v", account, err)
	}
	return nil
}

func (e *Engine) pumpConversations(ctx context.Context, account string, client protocol.Client) {
	stream, err := client.StreamConversations(ctx)
	if err != nil {
		log.Printf("conversation stream for %s: %v", account, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case conv, ok := <-stream:
			if !ok {
				return
			}
			if err := e.SaveConversations(ctx, account, []protocol.Conversation{conv}); err != nil {
				log.Printf("stream conversation %s: %v", conv.Topic, err)
			}
			if err := e.ComputeConversationsSpamScores(ctx, account); err != nil {
				log.Printf("spam scoring for %s: %v", account, err)
			}
		}
	}
}

func (e *Engine) pumpMessages(ctx context.Context, account string, client protocol.Client) {
	stream, err := client.StreamMessages(ctx)
	if err != nil {
		log.Printf("message stream for %s: %v", account, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := e.SaveMessages(ctx, account, []protocol.Message{msg}); err != nil {
				log.Printf("stream message %s: %v", msg.ID, err)
			}
		}
	}
}

func (e *Engine) pumpConsent(ctx context.Context, account string, client protocol.Client) {
	ticker := time.NewTicker(consentRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshConsent(ctx, account, client)
		}
	}
}

func (e *Engine) refreshConsent(ctx context.Context, account string, client protocol.Client) {
	store, ok := e.registry.Store(account)
	if !ok {
		return
	}
	consent, err := client.ConsentList(ctx)
	if err != nil {
		log.Printf("consent list for %s: %v", account, err)
		return
	}
	for value, consentState := range consent {
		store.SetPeerConsent(value, consentState)
	}
}
