package destination

import (
	"fmt"
	"strconv"

	"github.com/ory/dockertest/v3"
	dc "github.com/ory/dockertest/v3/docker"

	kithelper "github.com/rudderlabs/rudder-go-kit/testhelper"
)

type KafkaResource struct {
	Port string

	pool      *dockertest.Pool
	container *dockertest.Resource
}

// Destroy purges the broker container, e.g. to simulate an outage
func (k *KafkaResource) Destroy() error {
	return k.pool.Purge(k.container)
}

// Brokers returns the bootstrap addresses reachable from the host
func (k *KafkaResource) Brokers() []string {
	return []string{"localhost:" + k.Port}
}

type deferer interface {
	Defer(func() error)
}

type KafkaOption func(*kafkaConfig)

type kafkaConfig struct {
	logger Logger
	tag    string
}

func WithLogger(l Logger) KafkaOption {
	return func(c *kafkaConfig) { c.logger = l }
}

// WithImageTag overrides the confluentinc/cp-kafka image tag
func WithImageTag(tag string) KafkaOption {
	return func(c *kafkaConfig) { c.tag = tag }
}

// SetupKafka starts a single zookeeper + broker pair on a private docker network.
// Everything created is released through d.
func SetupKafka(pool *dockertest.Pool, d deferer, opts ...KafkaOption) (*KafkaResource, error) {
	c := kafkaConfig{logger: &NOPLogger{}, tag: "7.5.0"}
	for _, opt := range opts {
		opt(&c)
	}

	localhostPortInt, err := kithelper.GetFreePort()
	if err != nil {
		return nil, err
	}

	network, err := pool.Client.CreateNetwork(dc.CreateNetworkOptions{Name: "kafka_network_" + strconv.Itoa(localhostPortInt)})
	if err != nil {
		return nil, fmt.Errorf("could not create docker network: %w", err)
	}
	d.Defer(func() error {
		if err := pool.Client.RemoveNetwork(network.ID); err != nil {
			return fmt.Errorf("could not remove kafka network: %w", err)
		}
		return nil
	})

	zookeeperContainer, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "confluentinc/cp-zookeeper",
		Tag:        c.tag,
		NetworkID:  network.ID,
		Hostname:   "zookeeper",
		Env:        []string{"ZOOKEEPER_CLIENT_PORT=2181"},
	})
	if err != nil {
		return nil, fmt.Errorf("could not start zookeeper: %w", err)
	}
	d.Defer(func() error {
		if err := pool.Purge(zookeeperContainer); err != nil {
			return fmt.Errorf("could not purge zookeeper resource: %w", err)
		}
		return nil
	})

	localhostPort := fmt.Sprintf("%s/tcp", strconv.Itoa(localhostPortInt))
	advertisedListeners := fmt.Sprintf("INTERNAL://broker:9090,EXTERNAL://localhost:%d", localhostPortInt)
	c.logger.Log("KAFKA_ADVERTISED_LISTENERS", advertisedListeners)

	kafkaContainer, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "confluentinc/cp-kafka",
		Tag:        c.tag,
		NetworkID:  network.ID,
		Hostname:   "broker",
		PortBindings: map[dc.Port][]dc.PortBinding{
			"9092/tcp": {{HostIP: "localhost", HostPort: localhostPort}},
		},
		Env: []string{
			"KAFKA_BROKER_ID=1",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP=INTERNAL:PLAINTEXT,EXTERNAL:PLAINTEXT",
			"KAFKA_ADVERTISED_LISTENERS=" + advertisedListeners,
			"KAFKA_LISTENERS=INTERNAL://broker:9090,EXTERNAL://:9092",
			"KAFKA_ZOOKEEPER_CONNECT=zookeeper:2181",
			"KAFKA_INTER_BROKER_LISTENER_NAME=INTERNAL",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR=1",
			"KAFKA_GROUP_INITIAL_REBALANCE_DELAY_MS=0",
			"KAFKA_AUTO_CREATE_TOPICS_ENABLE=true",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not start kafka: %w", err)
	}
	d.Defer(func() error {
		if err := pool.Purge(kafkaContainer); err != nil {
			return fmt.Errorf("could not purge kafka resource: %w", err)
		}
		return nil
	})
	c.logger.Log("Kafka PORT: ", kafkaContainer.GetPort("9092/tcp"))

	return &KafkaResource{
		Port: kafkaContainer.GetPort("9092/tcp"),

		pool:      pool,
		container: kafkaContainer,
	}, nil
}
