package client

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

// Logger specifies a logger used to report internal changes within the consumer
type Logger interface {
	Printf(format string, args ...interface{})
}

// MessageHeader is a key/value pair type representing headers set on records
type MessageHeader struct {
	Key   string
	Value []byte
}

// Message is a data structure representing a Kafka message
type Message struct {
	Key, Value []byte
	Topic      string
	Partition  int32
	Offset     int64
	Headers    []MessageHeader
	Timestamp  time.Time
}

// Client holds the dialer shared by the consumers and producers created from it.
// The first broker is used as the bootstrap address for pings.
type Client struct {
	network string
	brokers []string
	dialer  *kafka.Dialer
	config  *Config
}

// New returns a new Kafka client
func New(network string, brokers []string, conf Config) (*Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	conf.defaults()

	dialer := kafka.Dialer{
		DualStack: true,
		Timeout:   conf.DialTimeout,
	}

	if conf.ClientID != "" {
		dialer.ClientID = conf.ClientID
	}
	if conf.TLS != nil {
		var err error
		dialer.TLS, err = conf.TLS.build()
		if err != nil {
			return nil, err
		}
	}

	if conf.SASL != nil {
		var err error
		dialer.SASLMechanism, err = conf.SASL.build()
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		network: network,
		brokers: brokers,
		dialer:  &dialer,
		config:  &conf,
	}, nil
}

// Network returns name of the network (for example, "tcp", "udp")
// see net.Addr interface
func (c *Client) Network() string { return c.network }

// String returns string form of the bootstrap address (for example, "192.0.2.1:25")
// see net.Addr interface
func (c *Client) String() string { return c.brokers[0] }

// Dialer exposes the configured dialer, e.g. for admin operations in tests
func (c *Client) Dialer() *kafka.Dialer { return c.dialer }

// Ping is used to check the connectivity only, then it discards the connection
func (c *Client) Ping(ctx context.Context) error {
	address := c.String()
	conn, err := c.dialer.DialContext(ctx, c.network, address)
	if err != nil {
		return fmt.Errorf("could not dial %s/%s: %w", c.network, address, err)
	}

	defer func() {
		// close asynchronously, if we block we might not respect the context
		go func() { _ = conn.Close() }()
	}()

	return nil
}

// NewLogger adapts a structured logger to the Printf logger used by kafka-go.
// Reader chatter goes to debug, errors go to error.
func NewLogger(log logger.Logger, errors bool) Logger {
	return &printfLogger{log: log, errors: errors}
}

type printfLogger struct {
	log    logger.Logger
	errors bool
}

func (l *printfLogger) Printf(format string, args ...interface{}) {
	if l.errors {
		l.log.Errorf(format, args...)
		return
	}
	l.log.Debugf(format, args...)
}
