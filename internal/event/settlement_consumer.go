package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"oracle-service/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// SettlementHandler applies rail outcomes to payouts.
type SettlementHandler interface {
	Confirm(ctx context.Context, payoutID uuid.UUID, reference string) (*models.Payout, error)
	Fail(ctx context.Context, payoutID uuid.UUID, reason string) (*models.Payout, error)
}

// SettlementConsumer consumes payment rail outcomes from payout_settlement_events.
type SettlementConsumer struct {
	conn    *RabbitMQConnection
	handler SettlementHandler
}

func NewSettlementConsumer(conn *RabbitMQConnection, handler SettlementHandler) *SettlementConsumer {
	return &SettlementConsumer{conn: conn, handler: handler}
}

func (c *SettlementConsumer) Start(ctx context.Context) error {
	return c.conn.consume(ctx, SettlementEventsQueue, c.processMessage)
}

func (c *SettlementConsumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	var settlement SettlementEvent
	if err := json.Unmarshal(msg.Body, &settlement); err != nil {
		slog.Error("failed to unmarshal settlement event", "error", err)
		settle(msg, errMalformed)
		return
	}

	err := c.apply(ctx, settlement)
	if err != nil {
		slog.Error("failed to apply settlement event",
			"payout_id", settlement.PayoutID,
			"status", settlement.Status,
			"error", err)
	} else {
		slog.Info("settlement event applied", "payout_id", settlement.PayoutID, "status", settlement.Status)
	}
	settle(msg, err)
}

func (c *SettlementConsumer) apply(ctx context.Context, settlement SettlementEvent) error {
	switch settlement.Status {
	case SettlementCompleted:
		_, err := c.handler.Confirm(ctx, settlement.PayoutID, settlement.Reference)
		return err
	case SettlementFailed:
		_, err := c.handler.Fail(ctx, settlement.PayoutID, settlement.Reason)
		return err
	default:
		return fmt.Errorf("%w: unknown settlement status %q", errMalformed, settlement.Status)
	}
}

var errMalformed = errors.New("malformed message")

// settle acks successful deliveries, drops messages that can never succeed
// and requeues everything else.
func settle(msg amqp.Delivery, err error) {
	switch {
	case err == nil:
		msg.Ack(false)
	case permanent(err):
		msg.Nack(false, false)
	default:
		msg.Nack(false, true)
	}
}

func permanent(err error) bool {
	return errors.Is(err, errMalformed) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrStateConflict) ||
		errors.Is(err, models.ErrAuthorization)
}
