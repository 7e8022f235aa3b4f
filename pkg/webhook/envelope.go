package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// PushEnvelope is the body of a Pub/Sub push request.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// PushMessage is the message inside a push envelope. Data is base64 on the
// wire and decoded by encoding/json.
type PushMessage struct {
	Data        []byte            `json:"data"`
	MessageID   string            `json:"messageId"`
	AltID       string            `json:"message_id"`
	PublishTime string            `json:"publishTime,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// ID returns the message id under either of its spellings.
func (m PushMessage) ID() string {
	if id := strings.TrimSpace(m.MessageID); id != "" {
		return id
	}
	return strings.TrimSpace(m.AltID)
}

// DecodeEnvelope parses a push body and checks that it carries a message
// id and data.
func DecodeEnvelope(body []byte) (*PushEnvelope, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidPayload, err)
	}
	if env.Message.ID() == "" {
		return nil, fmt.Errorf("%w: message has no id", billing.ErrInvalidPayload)
	}
	if len(env.Message.Data) == 0 {
		return nil, fmt.Errorf("%w: message has no data", billing.ErrInvalidPayload)
	}
	return &env, nil
}
