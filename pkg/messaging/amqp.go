package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"behavior-server/pkg/fusion"
	"behavior-server/pkg/metrics"
	"behavior-server/pkg/orchestrator"
)

// Event types carried in the AMQP envelope.
const (
	EventSnapshot = "behavior_snapshot"
	EventAlert    = "behavior_alert"
	EventSummary  = "session_summary"
)

// Envelope is the message format published to the behavior queue.
type Envelope struct {
	MessageID string      `json:"message_id"`
	EventType string      `json:"event_type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AMQPConfig holds AMQP publisher configuration.
type AMQPConfig struct {
	URL       string
	QueueName string
}

// AMQPPublisher publishes behavior events to an AMQP queue. Publishing
// is best-effort: a broken connection drops events and triggers a
// background reconnect rather than failing the analysis pipeline.
type AMQPPublisher struct {
	logger    *logrus.Entry
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewAMQPPublisher creates a publisher. Call Connect before publishing.
func NewAMQPPublisher(logger *logrus.Logger, config AMQPConfig) *AMQPPublisher {
	return &AMQPPublisher{
		logger:   logger.WithField("component", "amqp_publisher"),
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection, declares the queue and starts the
// reconnection monitor.
func (p *AMQPPublisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		p.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue %s: %w", p.config.QueueName, err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true

	go p.monitorConnection(conn.NotifyClose(make(chan *amqp.Error, 1)))

	p.logger.WithField("queue", p.config.QueueName).Info("Connected to AMQP server")
	return nil
}

// monitorConnection reconnects with backoff after the server closes the
// connection.
func (p *AMQPPublisher) monitorConnection(closed chan *amqp.Error) {
	select {
	case <-p.stopChan:
		return
	case err := <-closed:
		if err != nil {
			p.logger.WithError(err).Warning("AMQP connection lost, reconnecting")
		}
	}

	p.connMutex.Lock()
	p.connected = false
	p.connMutex.Unlock()

	backoff := time.Second
	for {
		select {
		case <-p.stopChan:
			return
		case <-time.After(backoff):
		}
		if err := p.Connect(); err == nil {
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// PublishSnapshot publishes one fused behavior snapshot.
func (p *AMQPPublisher) PublishSnapshot(sessionID string, snapshot *fusion.BehaviorSnapshot) error {
	return p.publish(EventSnapshot, sessionID, snapshot)
}

// PublishAlert publishes one behavior alert.
func (p *AMQPPublisher) PublishAlert(sessionID string, alert *fusion.BehaviorAlert) error {
	return p.publish(EventAlert, sessionID, alert)
}

// PublishSummary publishes the end-of-session summary.
func (p *AMQPPublisher) PublishSummary(sessionID string, summary *orchestrator.SessionSummary) error {
	return p.publish(EventSummary, sessionID, summary)
}

func (p *AMQPPublisher) publish(eventType, sessionID string, data interface{}) error {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	if !p.connected {
		return fmt.Errorf("not connected to AMQP server")
	}

	envelope := Envelope{
		MessageID: uuid.New().String(),
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	err = p.channel.Publish(
		"", // default exchange
		p.config.QueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    envelope.MessageID,
			Timestamp:    envelope.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	metrics.RecordAMQPPublish(eventType)
	return nil
}

// Connected reports whether the publisher currently has a live channel.
func (p *AMQPPublisher) Connected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// Close shuts down the publisher and its connection.
func (p *AMQPPublisher) Close() {
	p.stopOnce.Do(func() { close(p.stopChan) })

	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}
