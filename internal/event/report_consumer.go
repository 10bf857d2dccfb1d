package event

import (
	"context"
	"encoding/json"
	"log/slog"

	"oracle-service/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ReportIngester interface {
	Ingest(ctx context.Context, report models.OffchainReport) (*models.OffchainReport, error)
}

// ReportConsumer feeds pre-verified damage reports from the authenticated
// damage_reports queue into the oracle.
type ReportConsumer struct {
	conn     *RabbitMQConnection
	ingester ReportIngester
}

func NewReportConsumer(conn *RabbitMQConnection, ingester ReportIngester) *ReportConsumer {
	return &ReportConsumer{conn: conn, ingester: ingester}
}

func (c *ReportConsumer) Start(ctx context.Context) error {
	return c.conn.consume(ctx, DamageReportsQueue, c.processMessage)
}

func (c *ReportConsumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	var report models.OffchainReport
	if err := json.Unmarshal(msg.Body, &report); err != nil {
		slog.Error("failed to unmarshal damage report", "error", err)
		settle(msg, errMalformed)
		return
	}

	_, err := c.ingester.Ingest(ctx, report)
	if err != nil {
		slog.Error("failed to ingest damage report", "policy_id", report.PolicyID, "error", err)
	}
	settle(msg, err)
}
