package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
)

// natsConn is the part of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event as JSON on "<prefix>.<type>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
	close  func()
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DialNATS connects to a NATS server.
func DialNATS(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := newNATSPublisher(conn, cfg.SubjectPrefix)
	p.close = conn.Close
	return p, nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Emit(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(ev.Subject(p.prefix), payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes each event as JSON to a topic exchange, routed by
// "<prefix>.<type>".
type AMQPPublisher struct {
	ch       amqpChannel
	exchange string
	prefix   string
	close    func() error
}

// DialAMQP connects to a broker and declares a durable topic exchange.
func DialAMQP(url, exchange, prefix string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("error opening connection to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error opening channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating exchange %s: %w", exchange, err)
	}

	p := newAMQPPublisher(ch, exchange, prefix)
	p.close = conn.Close
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange, prefix string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, prefix: prefix}
}

func (p *AMQPPublisher) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		ev.Subject(p.prefix),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID.String(),
			Timestamp:    ev.At,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", p.exchange, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.close != nil {
		return p.close()
	}
	return nil
}
