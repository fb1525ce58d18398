package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "import.run.events"

// RunEventsPublisher публикует события жизненного цикла запусков импорта
// в topic-обменник. Routing key - имя события (run.started, run.finished).
type RunEventsPublisher struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	logger     port.LoggerPort
}

// NewRunEventsPublisher подключается к RabbitMQ и объявляет обменник
func NewRunEventsPublisher(url string, logger port.LoggerPort) (*RunEventsPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("publisher: failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("publisher: failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("publisher: failed to declare exchange '%s': %w", exchangeName, err)
	}

	return &RunEventsPublisher{
		connection: conn,
		channel:    ch,
		logger:     logger.WithFields(port.Fields{"component": "RunEventsPublisher"}),
	}, nil
}

// runEventPayload - снимок запуска в сообщении
type runEventPayload struct {
	Event      string             `json:"event"`
	RunID      string             `json:"run_id"`
	Kind       string             `json:"kind"`
	Status     string             `json:"status"`
	FullImport bool               `json:"full_import"`
	Counters   domain.RunCounters `json:"counters"`
	Timestamp  time.Time          `json:"timestamp"`
}

// PublishRunEvent публикует событие запуска
func (p *RunEventsPublisher) PublishRunEvent(ctx context.Context, event string, run *domain.ImportRun) error {
	if p.channel == nil || p.connection == nil || p.connection.IsClosed() {
		return fmt.Errorf("publisher: not connected or channel/connection is closed")
	}

	body, err := json.Marshal(runEventPayload{
		Event:      event,
		RunID:      run.ID.String(),
		Kind:       string(run.Kind),
		Status:     string(run.Status),
		FullImport: run.FullImport,
		Counters:   run.Counters,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publisher: failed to marshal run event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		exchangeName,
		event, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publisher: failed to publish message: %w", err)
	}

	p.logger.Debug("Run event published", port.Fields{
		"event":  event,
		"run_id": run.ID.String(),
	})
	return nil
}

// Close закрывает канал и соединение
func (p *RunEventsPublisher) Close() error {
	var firstErr error

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("Error closing channel", err, nil)
			firstErr = err
		}
		p.channel = nil
	}
	if p.connection != nil {
		if err := p.connection.Close(); err != nil {
			p.logger.Error("Error closing connection", err, nil)
			if firstErr == nil {
				firstErr = err
			}
		}
		p.connection = nil
	}
	return firstErr
}
