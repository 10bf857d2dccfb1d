package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"oracle-service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the payout publisher needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PayoutPublisher hands payout requests and status queries to the payment rail.
type PayoutPublisher struct {
	channel Publisher

	mu                sync.Mutex
	messagesPublished int64
	messagesFailed    int64
	lastPublishTime   time.Time
}

func NewPayoutPublisher(channel Publisher) *PayoutPublisher {
	return &PayoutPublisher{channel: channel}
}

// RequestPayout publishes the transfer request. The message id is
// payout id + attempt so the rail can drop redelivered duplicates.
func (p *PayoutPublisher) RequestPayout(ctx context.Context, request models.PayoutRequest) error {
	messageID := fmt.Sprintf("%s:%d", request.PayoutID, request.Attempt)
	if err := p.publish(ctx, PayoutRequestsQueue, messageID, request); err != nil {
		return err
	}

	slog.Info("payout request published",
		"payout_id", request.PayoutID,
		"policy_id", request.PolicyID,
		"amount", request.Amount,
		"attempt", request.Attempt)
	return nil
}

func (p *PayoutPublisher) QueryPayoutStatus(ctx context.Context, payout models.Payout) error {
	query := PayoutStatusQuery{
		PayoutID:        payout.ID,
		PolicyID:        payout.PolicyID,
		ProcessingSince: payout.UpdatedAt,
		RequestedAt:     time.Now(),
	}
	return p.publish(ctx, PayoutStatusQueue, payout.ID.String(), query)
}

func (p *PayoutPublisher) publish(ctx context.Context, queue, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		p.record(false)
		return fmt.Errorf("failed to marshal message for %s: %w", queue, err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key (queue name)
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.record(false)
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	p.record(true)
	return nil
}

func (p *PayoutPublisher) record(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !ok {
		p.messagesFailed++
		return
	}
	p.messagesPublished++
	p.lastPublishTime = time.Now()
}

// GetMetrics returns publisher metrics
func (p *PayoutPublisher) GetMetrics() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"messages_published": p.messagesPublished,
		"messages_failed":    p.messagesFailed,
		"last_publish_time":  p.lastPublishTime,
		"queue":              PayoutRequestsQueue,
	}
}
