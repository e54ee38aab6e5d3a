package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
	"go.uber.org/zap"
)

// Security protocols.
const (
	ProtocolPlaintext     = "PLAINTEXT"
	ProtocolSSL           = "SSL"
	ProtocolSASLPlaintext = "SASL_PLAINTEXT"
	ProtocolSASLSSL       = "SASL_SSL"
)

// SASL mechanisms.
const (
	MechanismPlain       = "PLAIN"
	MechanismSCRAMSHA256 = "SCRAM-SHA-256"
	MechanismSCRAMSHA512 = "SCRAM-SHA-512"
	MechanismAWSMSKIAM   = "AWS_MSK_IAM"
)

// TLSConfig holds the TLS material used for SSL and SASL_SSL.
type TLSConfig struct {
	CACertFile         string
	ClientCertFile     string
	ClientKeyFile      string
	InsecureSkipVerify bool
}

// SecurityConfig is shared by the transport, the publisher and the DLQ.
type SecurityConfig struct {
	Protocol      string
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
	// AWSRegion is used by AWS_MSK_IAM.
	AWSRegion string
	TLS       TLSConfig
}

// Validate checks that the protocol and mechanism are supported and have
// the credentials they need.
func (s SecurityConfig) Validate() error {
	switch s.protocol() {
	case ProtocolPlaintext, ProtocolSSL:
		return nil
	case ProtocolSASLPlaintext, ProtocolSASLSSL:
	default:
		return fmt.Errorf("unsupported security protocol: %s", s.Protocol)
	}

	switch s.SASLMechanism {
	case MechanismPlain, MechanismSCRAMSHA256, MechanismSCRAMSHA512:
		if s.SASLUsername == "" || s.SASLPassword == "" {
			return fmt.Errorf("sasl mechanism %s requires username and password", s.SASLMechanism)
		}
	case MechanismAWSMSKIAM:
		if s.AWSRegion == "" {
			return fmt.Errorf("sasl mechanism %s requires an aws region", s.SASLMechanism)
		}
	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", s.SASLMechanism)
	}
	return nil
}

func (s SecurityConfig) protocol() string {
	if s.Protocol == "" {
		return ProtocolPlaintext
	}
	return strings.ToUpper(s.Protocol)
}

// configureSecurity applies SASL and TLS settings to a sarama config.
func configureSecurity(config *sarama.Config, sec SecurityConfig, logger *zap.Logger) error {
	if err := sec.Validate(); err != nil {
		return err
	}

	protocol := sec.protocol()
	switch protocol {
	case ProtocolPlaintext:
		return nil

	case ProtocolSSL:
		return configureTLS(config, sec.TLS, logger)

	case ProtocolSASLPlaintext, ProtocolSASLSSL:
		config.Net.SASL.Enable = true
		configureSASL(config, sec, logger)

		if protocol == ProtocolSASLSSL {
			return configureTLS(config, sec.TLS, logger)
		}
	}

	return nil
}

func configureSASL(config *sarama.Config, sec SecurityConfig, logger *zap.Logger) {
	switch sec.SASLMechanism {
	case MechanismPlain:
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		config.Net.SASL.User = sec.SASLUsername
		config.Net.SASL.Password = sec.SASLPassword

	case MechanismSCRAMSHA256, MechanismSCRAMSHA512:
		config.Net.SASL.Mechanism = sarama.SASLMechanism(sec.SASLMechanism)
		config.Net.SASL.User = sec.SASLUsername
		config.Net.SASL.Password = sec.SASLPassword
		config.Net.SASL.SCRAMClientGeneratorFunc = scramClientGenerator(sec.SASLMechanism)

	case MechanismAWSMSKIAM:
		config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{region: sec.AWSRegion}
	}

	logger.Info("configured sasl authentication", zap.String("mechanism", sec.SASLMechanism))
}

func configureTLS(config *sarama.Config, cfg TLSConfig, logger *zap.Logger) error {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local brokers
	}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to parse CA certificate %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
		logger.Info("loaded CA certificate", zap.String("file", cfg.CACertFile))
	}

	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	config.Net.TLS.Enable = true
	config.Net.TLS.Config = tlsConfig
	return nil
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK IAM authentication.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token: token,
		Extensions: map[string]string{
			"expiry": fmt.Sprintf("%d", expiryMs),
		},
	}, nil
}

// offsetInitial converts an auto offset reset setting to sarama's constant.
func offsetInitial(autoOffsetReset string) int64 {
	switch autoOffsetReset {
	case "earliest":
		return sarama.OffsetOldest
	default:
		return sarama.OffsetNewest
	}
}

// compressionCodec parses a producer compression name.
func compressionCodec(name string) sarama.CompressionCodec {
	switch strings.ToLower(name) {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}
