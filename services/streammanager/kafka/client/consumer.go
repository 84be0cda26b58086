package client

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type ConsumerConfig struct {
	GroupID           string
	// StartOffset applies only when the group has no committed offset yet
	StartOffset       int64
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	RebalanceTimeout  time.Duration
	Logger            Logger
	ErrorLogger       Logger
}

func (c *ConsumerConfig) defaults() {
	if c.StartOffset == 0 {
		c.StartOffset = kafka.FirstOffset
	}
	if c.MinBytes < 1 {
		c.MinBytes = 1
	}
	if c.MaxBytes < 1 {
		c.MaxBytes = 10e6
	}
	if c.MaxWait < 1 {
		c.MaxWait = time.Second
	}
	if c.SessionTimeout < 1 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval < 1 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.RebalanceTimeout < 1 {
		c.RebalanceTimeout = 30 * time.Second
	}
}

// Consumer reads from a topic as a member of a consumer group.
// Offsets are only committed through Commit.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer instantiates a group consumer on the given topic
func (c *Client) NewConsumer(topic string, conf ConsumerConfig) (*Consumer, error) {
	if conf.GroupID == "" {
		return nil, fmt.Errorf("consumer group id is required")
	}
	conf.defaults()

	readerConf := kafka.ReaderConfig{
		Brokers:           c.brokers,
		GroupID:           conf.GroupID,
		Topic:             topic,
		Dialer:            c.dialer,
		MinBytes:          conf.MinBytes,
		MaxBytes:          conf.MaxBytes,
		MaxWait:           conf.MaxWait,
		StartOffset:       conf.StartOffset,
		CommitInterval:    0, // synchronous commits
		SessionTimeout:    conf.SessionTimeout,
		HeartbeatInterval: conf.HeartbeatInterval,
		RebalanceTimeout:  conf.RebalanceTimeout,
	}
	if conf.Logger != nil {
		readerConf.Logger = conf.Logger
	}
	if conf.ErrorLogger != nil {
		readerConf.ErrorLogger = conf.ErrorLogger
	}
	if err := readerConf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer configuration for topic %q: %w", topic, err)
	}

	return &Consumer{
		reader: kafka.NewReader(readerConf),
		topic:  topic,
	}, nil
}

func (c *Consumer) Topic() string { return c.topic }

// Receive blocks until the next message is available or the context is done.
// The offset is not committed.
func (c *Consumer) Receive(ctx context.Context) (Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}

	var headers []MessageHeader
	if l := len(msg.Headers); l > 0 {
		headers = make([]MessageHeader, l)
		for i := range msg.Headers {
			headers[i] = MessageHeader{
				Key:   msg.Headers[i].Key,
				Value: msg.Headers[i].Value,
			}
		}
	}

	return Message{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: int32(msg.Partition),
		Offset:    msg.Offset,
		Headers:   headers,
		Timestamp: msg.Time,
	}, nil
}

// Commit marks the given messages as consumed for the group
func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	kmsgs := make([]kafka.Message, len(msgs))
	for i := range msgs {
		kmsgs[i] = kafka.Message{
			Topic:     msgs[i].Topic,
			Partition: int(msgs[i].Partition),
			Offset:    msgs[i].Offset,
		}
	}
	return c.reader.CommitMessages(ctx, kmsgs...)
}

// Close tries to close the consumer, but it will return sooner if the context is canceled.
// A routine in background will still try to close the consumer since the underlying library does not support
// contexts on Close().
func (c *Consumer) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		if c.reader != nil {
			done <- c.reader.Close()
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
