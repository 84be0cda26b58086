package testutil

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Admin creates topics through the cluster controller
type Admin struct {
	dialer           *kafka.Dialer
	network, address string
}

func NewAdmin(dialer *kafka.Dialer, network, address string) *Admin {
	return &Admin{dialer: dialer, network: network, address: address}
}

// CreateTopics creates every topic with the given partitions and replication factor.
func (a *Admin) CreateTopics(ctx context.Context, numPartitions, replicationFactor int, topics ...string) error {
	conn, err := a.dialer.DialContext(ctx, a.network, a.address)
	if err != nil {
		return fmt.Errorf("could not dial %s/%s: %w", a.network, a.address, err)
	}
	defer func() {
		// close asynchronously, if we block we might not respect the context
		go func() { _ = conn.Close() }()
	}()

	var (
		errs    = make(chan error, 1)
		brokers = make(chan kafka.Broker, 1)
	)
	go func() { // conn.Controller() does not honour the context
		b, err := conn.Controller()
		if err != nil {
			errs <- fmt.Errorf("could not get controller: %w", err)
			return
		}
		if b.Host == "" {
			errs <- fmt.Errorf("create topics: empty controller host")
			return
		}
		brokers <- b
	}()

	var broker kafka.Broker
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-errs:
		return err
	case broker = <-brokers:
	}

	controllerConn, err := a.dialer.DialContext(ctx, a.network, net.JoinHostPort(broker.Host, strconv.Itoa(broker.Port)))
	if err != nil {
		return fmt.Errorf("could not dial via controller: %w", err)
	}
	defer func() {
		go func() { _ = controllerConn.Close() }()
	}()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     numPartitions,
			ReplicationFactor: replicationFactor,
		}
	}
	go func() { // CreateTopics() does not honour the context either
		errs <- controllerConn.CreateTopics(configs...)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err = <-errs:
		return err
	}
}
