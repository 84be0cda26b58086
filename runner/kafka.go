package runner

import (
	"fmt"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/Informasjonsforvaltning/fdk-resource-service/services/ingestion"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/streammanager/kafka/client"
)

func newKafkaClient(conf *config.Config) (*client.Client, error) {
	clientConf := client.Config{
		ClientID:    conf.GetString("Kafka.clientID", serviceName),
		DialTimeout: conf.GetDuration("Kafka.dialTimeout", 10, time.Second),
	}
	if conf.GetBool("Kafka.tls.enabled", false) {
		clientConf.TLS = &client.TLS{
			CACertificate:      []byte(conf.GetString("Kafka.tls.caCertificate", "")),
			InsecureSkipVerify: conf.GetBool("Kafka.tls.insecureSkipVerify", false),
			WithSystemCertPool: conf.GetBool("Kafka.tls.withSystemCertPool", true),
		}
	}
	if username := conf.GetString("Kafka.sasl.username", ""); username != "" {
		hashGen, err := client.ScramHashGeneratorFromString(conf.GetString("Kafka.sasl.mechanism", "sha512"))
		if err != nil {
			return nil, fmt.Errorf("kafka sasl: %w", err)
		}
		clientConf.SASL = &client.SASL{
			ScramHashGen: hashGen,
			Username:     username,
			Password:     conf.GetString("Kafka.sasl.password", ""),
		}
	}
	return client.New("tcp", conf.GetStringSlice("Kafka.brokers", []string{"localhost:9092"}), clientConf)
}

// newConsumerFactory joins every consumer to the configured group
func newConsumerFactory(conf *config.Config, c *client.Client, log logger.Logger) ingestion.ConsumerFactory {
	kafkaLog := log.Child("kafka")
	consumerConf := client.ConsumerConfig{
		GroupID:        conf.GetString("Kafka.groupID", serviceName),
		MaxWait:        conf.GetDuration("Kafka.maxWait", 1, time.Second),
		SessionTimeout: conf.GetDuration("Kafka.sessionTimeout", 30, time.Second),
		Logger:         client.NewLogger(kafkaLog, false),
		ErrorLogger:    client.NewLogger(kafkaLog, true),
	}
	return func(topic string) (ingestion.Consumer, error) {
		consumer, err := c.NewConsumer(topic, consumerConf)
		if err != nil {
			return nil, err
		}
		return consumer, nil
	}
}
