package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

var _ sarama.SCRAMClient = (*scramClient)(nil)

// scramHashes maps the SCRAM mechanisms senders and receivers accept to the
// hash each one negotiates.
var scramHashes = map[string]scram.HashGeneratorFcn{
	MechanismSCRAMSHA256: scram.SHA256,
	MechanismSCRAMSHA512: scram.SHA512,
}

// scramClient runs one SCRAM conversation of sarama's SASL handshake. Sarama
// asks the generator for a fresh client per broker connection.
type scramClient struct {
	hashGen scram.HashGeneratorFcn
	conv    *scram.ClientConversation
}

// scramClientGenerator returns sarama's client generator for mechanism, or
// nil when mechanism is not a SCRAM mechanism.
func scramClientGenerator(mechanism string) func() sarama.SCRAMClient {
	hashGen, ok := scramHashes[mechanism]
	if !ok {
		return nil
	}
	return func() sarama.SCRAMClient {
		return &scramClient{hashGen: hashGen}
	}
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGen.NewClient(userName, password, authzID)
	if err != nil {
		return fmt.Errorf("start scram conversation for %q: %w", userName, err)
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	if c.conv == nil {
		return "", fmt.Errorf("scram step before begin")
	}
	return c.conv.Step(challenge)
}

// Done reports whether the server's final message has been verified.
func (c *scramClient) Done() bool {
	return c.conv != nil && c.conv.Done()
}
