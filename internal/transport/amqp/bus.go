// Package amqp provides the RabbitMQ-backed trigger bus for
// deployments where scheduler and executor run in separate processes.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/applyforge/applyforge/internal/domain"
)

type Config struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

type Bus struct {
	cfg     Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// Dial connects and declares the exchange, queue, and binding. All
// declarations are durable; run requests survive a broker restart.
func Dial(cfg Config, logger *slog.Logger) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("amqp trigger bus connected", "exchange", cfg.Exchange, "queue", cfg.Queue)
	return &Bus{cfg: cfg, conn: conn, channel: ch, logger: logger}, nil
}

// Emit publishes a run request as a persistent JSON message.
func (b *Bus) Emit(ctx context.Context, req domain.RunRequest) error {
	body, err := encodeRequest(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	err = b.channel.PublishWithContext(ctx, b.cfg.Exchange, b.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish run request: %w", err)
	}
	return nil
}

// Consume delivers run requests until ctx is cancelled. Messages are
// acked after they land on the returned channel; undecodable payloads
// are dropped with a nack.
func (b *Bus) Consume(ctx context.Context) (<-chan domain.RunRequest, error) {
	deliveries, err := b.channel.Consume(b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	out := make(chan domain.RunRequest)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				req, err := decodeRequest(d.Body)
				if err != nil {
					b.logger.Error("dropping undecodable run request", "error", err)
					d.Nack(false, false)
					continue
				}
				select {
				case out <- req:
					d.Ack(false)
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

type wireRequest struct {
	CampaignID string    `json:"campaign_id"`
	Identity   string    `json:"identity"`
	DueAt      time.Time `json:"due_at"`
	EmittedAt  time.Time `json:"emitted_at"`
}

func encodeRequest(req domain.RunRequest) ([]byte, error) {
	return json.Marshal(wireRequest{
		CampaignID: req.CampaignID.String(),
		Identity:   req.Identity,
		DueAt:      req.DueAt,
		EmittedAt:  req.EmittedAt,
	})
}

func decodeRequest(body []byte) (domain.RunRequest, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return domain.RunRequest{}, err
	}
	id, err := uuid.Parse(w.CampaignID)
	if err != nil {
		return domain.RunRequest{}, fmt.Errorf("campaign id: %w", err)
	}
	return domain.RunRequest{
		CampaignID: id,
		Identity:   w.Identity,
		DueAt:      w.DueAt,
		EmittedAt:  w.EmittedAt,
	}, nil
}
