package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

type ScramHashGenerator uint8

const (
	ScramPlainText ScramHashGenerator = iota
	ScramSHA256
	ScramSHA512
)

// ScramHashGeneratorFromString maps the configured mechanism name (plain, sha256, sha512) to a generator.
func ScramHashGeneratorFromString(s string) (ScramHashGenerator, error) {
	switch s {
	case "plain":
		return ScramPlainText, nil
	case "sha256":
		return ScramSHA256, nil
	case "sha512":
		return ScramSHA512, nil
	default:
		return 0, fmt.Errorf("scram hash generator out of the known domain %s: %q", "[plain, sha256, sha512]", s)
	}
}

// Config is the client configuration shared by consumers and producers
type Config struct {
	ClientID    string
	DialTimeout time.Duration
	TLS         *TLS
	SASL        *SASL
}

func (c *Config) defaults() {
	if c.DialTimeout < 1 {
		c.DialTimeout = 10 * time.Second
	}
}

// TLS holds the TLS configuration. A nil *TLS means plaintext.
type TLS struct {
	CACertificate      []byte
	Cert, Key          []byte
	InsecureSkipVerify bool
	WithSystemCertPool bool
}

func (c *TLS) build() (*tls.Config, error) {
	conf := &tls.Config{ // skipcq: GSC-G402
		MinVersion:         tls.VersionTLS11,
		MaxVersion:         tls.VersionTLS13,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	var (
		caCertPool *x509.CertPool
		err        error
	)
	if c.WithSystemCertPool {
		caCertPool, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("could not copy system cert pool: %w", err)
		}
	} else {
		caCertPool = x509.NewCertPool()
	}

	if len(c.CACertificate) > 0 {
		if !caCertPool.AppendCertsFromPEM(c.CACertificate) {
			return nil, fmt.Errorf("could not append certs from PEM")
		}
	}
	conf.RootCAs = caCertPool

	if len(c.Cert) > 0 && len(c.Key) > 0 {
		cert, err := tls.X509KeyPair(c.Cert, c.Key)
		if err != nil {
			return nil, fmt.Errorf("could not get TLS certificate: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}

// SASL holds the SASL credentials. A nil *SASL disables authentication.
type SASL struct {
	ScramHashGen       ScramHashGenerator
	Username, Password string
}

func (c *SASL) build() (mechanism sasl.Mechanism, err error) {
	switch c.ScramHashGen {
	case ScramPlainText:
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case ScramSHA256:
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case ScramSHA512:
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	default:
		return nil, fmt.Errorf("scram hash generator out of the known domain: %v", c.ScramHashGen)
	}
}
