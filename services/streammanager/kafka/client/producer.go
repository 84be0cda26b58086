package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	WriteTimeout time.Duration
	MaxAttempts  int
	Logger       Logger
	ErrorLogger  Logger
}

// Producer writes synchronously to a single topic.
// The service only consumes; producers feed the event topics in integration tests and tooling.
type Producer struct {
	writer *kafka.Writer
}

func (c *Client) NewProducer(topic string, conf ProducerConfig) (*Producer, error) {
	if conf.WriteTimeout < 1 {
		conf.WriteTimeout = 10 * time.Second
	}
	if conf.MaxAttempts < 1 {
		conf.MaxAttempts = 10
	}

	transport := &kafka.Transport{
		DialTimeout: c.config.DialTimeout,
		Dial:        (&net.Dialer{Timeout: c.config.DialTimeout}).DialContext,
		ClientID:    c.config.ClientID,
	}
	var err error
	if c.config.TLS != nil {
		if transport.TLS, err = c.config.TLS.build(); err != nil {
			return nil, fmt.Errorf("could not build TLS configuration: %w", err)
		}
	}
	if c.config.SASL != nil {
		if transport.SASL, err = c.config.SASL.build(); err != nil {
			return nil, fmt.Errorf("could not build SASL configuration: %w", err)
		}
	}

	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(c.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           time.Nanosecond,
		WriteTimeout:           conf.WriteTimeout,
		MaxAttempts:            conf.MaxAttempts,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Transport:              transport,
		Logger:                 conf.Logger,
		ErrorLogger:            conf.ErrorLogger,
	}}, nil
}

// Close flushes pending writes. It returns early when ctx is done, leaving the writer to close in the background.
func (p *Producer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.writer.Close() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Publish writes msgs and waits for every replica to acknowledge them.
func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	return p.writer.WriteMessages(ctx, lo.Map(msgs, func(m Message, _ int) kafka.Message {
		return kafka.Message{
			Key:   m.Key,
			Value: m.Value,
			Time:  m.Timestamp,
			Headers: lo.Map(m.Headers, func(h MessageHeader, _ int) kafka.Header {
				return kafka.Header{Key: h.Key, Value: h.Value}
			}),
		}
	})...)
}
