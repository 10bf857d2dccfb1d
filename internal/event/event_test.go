package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"oracle-service/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type recordingAck struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *recordingAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *recordingAck) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func delivery(t *testing.T, ack *recordingAck, payload any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

type fakeSettlement struct {
	confirmed map[uuid.UUID]string
	failed    map[uuid.UUID]string
	err       error
}

func newFakeSettlement() *fakeSettlement {
	return &fakeSettlement{confirmed: map[uuid.UUID]string{}, failed: map[uuid.UUID]string{}}
}

func (f *fakeSettlement) Confirm(_ context.Context, id uuid.UUID, reference string) (*models.Payout, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.confirmed[id] = reference
	return &models.Payout{ID: id, Status: models.PayoutCompleted}, nil
}

func (f *fakeSettlement) Fail(_ context.Context, id uuid.UUID, reason string) (*models.Payout, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failed[id] = reason
	return &models.Payout{ID: id, Status: models.PayoutFailed}, nil
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

// ============================================================================
// TEST SUITE 1: SETTLEMENT CONSUMER
// ============================================================================

func TestSettlementConsumer_AppliesOutcomes(t *testing.T) {
	handler := newFakeSettlement()
	consumer := NewSettlementConsumer(nil, handler)
	completedID, failedID := uuid.New(), uuid.New()

	ack := &recordingAck{}
	consumer.processMessage(context.Background(), delivery(t, ack, SettlementEvent{
		PayoutID: completedID, Status: SettlementCompleted, Reference: "tx-1",
	}))
	assert.True(t, ack.acked)
	assert.Equal(t, "tx-1", handler.confirmed[completedID])

	ack = &recordingAck{}
	consumer.processMessage(context.Background(), delivery(t, ack, SettlementEvent{
		PayoutID: failedID, Status: SettlementFailed, Reason: "account closed",
	}))
	assert.True(t, ack.acked)
	assert.Equal(t, "account closed", handler.failed[failedID])
}

func TestSettlementConsumer_DropsPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		err  error
	}{
		{"malformed json", []byte("{not json"), nil},
		{"unknown status", mustJSON(t, SettlementEvent{PayoutID: uuid.New(), Status: "pending"}), nil},
		{"state conflict", mustJSON(t, SettlementEvent{PayoutID: uuid.New(), Status: SettlementCompleted, Reference: "x"}),
			models.NewStateConflictError("payout.single_settlement", "already settled")},
		{"unknown payout", mustJSON(t, SettlementEvent{PayoutID: uuid.New(), Status: SettlementFailed, Reason: "x"}),
			models.NewNotFoundError("payout", "x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newFakeSettlement()
			handler.err = tt.err
			ack := &recordingAck{}

			NewSettlementConsumer(nil, handler).processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body})

			assert.True(t, ack.nacked)
			assert.False(t, ack.requeued)
		})
	}
}

func TestSettlementConsumer_RequeuesTransientFailures(t *testing.T) {
	handler := newFakeSettlement()
	handler.err = errors.New("connection reset by peer")
	ack := &recordingAck{}

	NewSettlementConsumer(nil, handler).processMessage(context.Background(), delivery(t, ack, SettlementEvent{
		PayoutID: uuid.New(), Status: SettlementCompleted, Reference: "tx-1",
	}))

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestSettlementConsumer_RequeuesWhileSettlementLockHeld(t *testing.T) {
	handler := newFakeSettlement()
	handler.err = models.NewBusyError("payout.serialized_settlement", "another callback is in progress")
	ack := &recordingAck{}

	NewSettlementConsumer(nil, handler).processMessage(context.Background(), delivery(t, ack, SettlementEvent{
		PayoutID: uuid.New(), Status: SettlementCompleted, Reference: "tx-1",
	}))

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued, "a busy payout must be retried, not dropped")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

// ============================================================================
// TEST SUITE 2: PUBLISHER
// ============================================================================

func TestPayoutPublisher_RequestPayout(t *testing.T) {
	channel := &fakeChannel{}
	publisher := NewPayoutPublisher(channel)
	request := models.PayoutRequest{PayoutID: uuid.New(), PolicyID: "p1", Amount: 371, Attempt: 2}

	require.NoError(t, publisher.RequestPayout(context.Background(), request))

	require.Len(t, channel.published, 1)
	assert.Equal(t, PayoutRequestsQueue, channel.keys[0])
	assert.Equal(t, request.PayoutID.String()+":2", channel.published[0].MessageId)
	assert.Equal(t, amqp.Persistent, channel.published[0].DeliveryMode)

	var decoded models.PayoutRequest
	require.NoError(t, json.Unmarshal(channel.published[0].Body, &decoded))
	assert.Equal(t, int64(371), decoded.Amount)
	assert.Equal(t, int64(1), publisher.GetMetrics()["messages_published"])
}

func TestPayoutPublisher_PublishFailure(t *testing.T) {
	channel := &fakeChannel{err: errors.New("channel closed")}
	publisher := NewPayoutPublisher(channel)

	err := publisher.RequestPayout(context.Background(), models.PayoutRequest{PayoutID: uuid.New()})

	assert.ErrorContains(t, err, "channel closed")
	assert.Equal(t, int64(1), publisher.GetMetrics()["messages_failed"])
}

func TestPayoutPublisher_QueryPayoutStatus(t *testing.T) {
	channel := &fakeChannel{}
	payout := models.Payout{ID: uuid.New(), PolicyID: "p1"}

	require.NoError(t, NewPayoutPublisher(channel).QueryPayoutStatus(context.Background(), payout))

	assert.Equal(t, []string{PayoutStatusQueue}, channel.keys)
}
