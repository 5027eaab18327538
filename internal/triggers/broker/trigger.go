// Package broker consumes stable-study notifications from a RabbitMQ queue.
// Messages carry the same shape as the archive's change log entries:
//
//	{"ChangeType": "StableStudy", "ID": "<study id>"}
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"dicom-router/internal/common/logging"
	"dicom-router/internal/models"
	"dicom-router/internal/triggers"
)

// Trigger implements the RabbitMQ consumer trigger
type Trigger struct {
	*triggers.BaseTrigger
	config  *Config
	handler triggers.StudyHandler
	dial    func(url string) (*amqp.Connection, error)

	mu           sync.RWMutex
	connected    bool
	lastError    error
	messageCount int64
	errorCount   int64
}

func NewTrigger(config *Config, handler triggers.StudyHandler, logger logging.Logger) (*Trigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Trigger{
		BaseTrigger: triggers.NewBaseTrigger("broker", config.Name, logger),
		config:      config,
		handler:     handler,
		dial:        amqp.Dial,
	}, nil
}

func (t *Trigger) Start(ctx context.Context) error {
	return t.Run(ctx, t.consumeLoop)
}

func (t *Trigger) Health() error {
	if !t.IsRunning() {
		return triggers.ErrTriggerNotRunning
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		if t.lastError != nil {
			return fmt.Errorf("not connected: %w", t.lastError)
		}
		return fmt.Errorf("not connected")
	}
	return nil
}

// Counts returns the number of messages received and the number that failed
func (t *Trigger) Counts() (messages, errors int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.messageCount, t.errorCount
}

// consumeLoop reconnects after every connection loss until ctx is done
func (t *Trigger) consumeLoop(ctx context.Context) error {
	for {
		err := t.consume(ctx)
		t.setConnected(false, err)
		if ctx.Err() != nil {
			return nil
		}

		t.Logger().Warn("RabbitMQ consumer disconnected, reconnecting",
			logging.Field{Key: "error", Value: fmt.Sprint(err)},
			logging.Field{Key: "delay", Value: t.config.ReconnectDelay.String()},
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.config.ReconnectDelay):
		}
	}
}

func (t *Trigger) consume(ctx context.Context) error {
	conn, err := t.dial(t.config.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(t.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	if _, err := ch.QueueDeclare(t.config.Queue, t.config.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.config.Queue, err)
	}

	deliveries, err := ch.Consume(t.config.Queue, t.Name(), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", t.config.Queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	t.setConnected(true, nil)
	t.Logger().Info("Consuming stable-study messages", logging.Field{Key: "queue", Value: t.config.Queue})

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return fmt.Errorf("connection closed")
			}
			return amqpErr
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			t.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery acknowledges a message once its study was handled. Malformed
// messages are rejected without requeue; a failed study is requeued once.
func (t *Trigger) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	t.UpdateLastExecution(time.Now())
	t.mu.Lock()
	t.messageCount++
	t.mu.Unlock()

	var change models.Change
	if err := json.Unmarshal(delivery.Body, &change); err != nil || change.ID == "" {
		t.countError()
		t.Logger().Warn("Rejecting malformed stable-study message",
			logging.Field{Key: "message_id", Value: delivery.MessageId},
			logging.Field{Key: "body_size", Value: len(delivery.Body)},
		)
		delivery.Reject(false)
		return
	}

	if change.ChangeType != models.ChangeTypeStableStudy {
		t.Logger().Debug("Ignoring change",
			logging.Field{Key: "change_type", Value: change.ChangeType},
			logging.Field{Key: "id", Value: change.ID},
		)
		delivery.Ack(false)
		return
	}

	if err := t.handler(ctx, change.ID); err != nil {
		t.countError()
		requeue := !delivery.Redelivered
		t.Logger().Error("Stable study handling failed", err,
			logging.Field{Key: "study_id", Value: change.ID},
			logging.Field{Key: "requeue", Value: requeue},
		)
		delivery.Nack(false, requeue)
		return
	}

	delivery.Ack(false)
}

func (t *Trigger) setConnected(connected bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
	t.lastError = err
}

func (t *Trigger) countError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCount++
}
