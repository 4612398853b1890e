package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-sync/internal/mocks"
	"messenger-sync/internal/telemetry"
)

func TestEmitPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger-sync", "messenger-sync", "test")

	publisher.On("Publish", mock.Anything, "audit.messenger-sync", mock.Anything).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "message queued", "req-1", "0xME")

	publisher.AssertExpectations(t)
	envelope, ok := publisher.Calls[0].Arguments.Get(2).(telemetry.AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, 1, envelope.SchemaVersion)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "0xME", envelope.Account)
	assert.Equal(t, "req-1", envelope.RequestID)
	assert.Equal(t, "INFO", envelope.Payload.Level)
	assert.Equal(t, "message queued", envelope.Payload.Text)
}

func TestEmitToleratesMissingPublisher(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	emitter.Emit(context.Background(), "INFO", "dropped", "", "")

	emitter = telemetry.NewAuditEmitter(nil, "audit.messenger-sync", "messenger-sync", "test")
	emitter.Emit(context.Background(), "INFO", "dropped", "", "")
}
