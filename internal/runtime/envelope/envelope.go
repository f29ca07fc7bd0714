// Package envelope wraps message payloads in the JSON envelope used on the
// wire, so workers written against other bus frameworks can read them.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busworker/internal/runtime/ids"
	"github.com/drblury/busworker/internal/runtime/jsoncodec"
	"github.com/drblury/busworker/internal/runtime/metadata"
)

// ErrEmptyBody is returned when a message carries no payload at all.
var ErrEmptyBody = errors.New("envelope: message body is empty")

// Envelope is the serialized form of every message on the bus.
type Envelope struct {
	MessageID          string          `json:"messageId"`
	CorrelationID      string          `json:"correlationId,omitempty"`
	ConversationID     string          `json:"conversationId,omitempty"`
	InitiatorID        string          `json:"initiatorId,omitempty"`
	SourceAddress      string          `json:"sourceAddress,omitempty"`
	DestinationAddress string          `json:"destinationAddress,omitempty"`
	MessageType        []string        `json:"messageType"`
	Message            json.RawMessage `json:"message"`
	SentTime           time.Time       `json:"sentTime"`
	ExpirationTime     *time.Time      `json:"expirationTime,omitempty"`
	Headers            map[string]any  `json:"headers"`
	Host               *HostInfo       `json:"host,omitempty"`
}

// HostInfo describes the process that sent a message.
type HostInfo struct {
	MachineName      string `json:"machineName"`
	ProcessName      string `json:"processName"`
	ProcessID        int    `json:"processId"`
	FrameworkVersion string `json:"frameworkVersion"`
	OperatingSystem  string `json:"operatingSystemVersion"`
}

var currentHost = sync.OnceValue(func() *HostInfo {
	machine, _ := os.Hostname()
	return &HostInfo{
		MachineName:      machine,
		ProcessName:      filepath.Base(os.Args[0]),
		ProcessID:        os.Getpid(),
		FrameworkVersion: runtime.Version(),
		OperatingSystem:  runtime.GOOS + "/" + runtime.GOARCH,
	}
})

// Outgoing describes a message about to be sent.
type Outgoing struct {
	// MessageType is the URN of the payload type.
	MessageType        string
	CorrelationID      string
	ConversationID     string
	InitiatorID        string
	SourceAddress      string
	DestinationAddress string
	Headers            map[string]any
	// IgnoreReferenceLoops writes self-referencing parts of the payload as
	// null instead of failing.
	IgnoreReferenceLoops bool
	SentTime             time.Time
}

// Wrap serializes payload into an envelope and returns it as a Watermill
// message. Routing headers are copied into the message metadata so
// middleware can read them without decoding the body.
func Wrap(payload any, out Outgoing) (*message.Message, error) {
	body, err := jsoncodec.Marshal(payload, jsoncodec.IgnoreLoops(out.IgnoreReferenceLoops))
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", out.MessageType, err)
	}

	sent := out.SentTime
	if sent.IsZero() {
		sent = time.Now().UTC()
	}
	correlationID := out.CorrelationID
	if correlationID == "" {
		correlationID = ids.NewCorrelationID()
	}
	conversationID := out.ConversationID
	if conversationID == "" {
		conversationID = correlationID
	}
	headers := out.Headers
	if headers == nil {
		headers = map[string]any{}
	}

	env := Envelope{
		MessageID:          ids.NewMessageID(),
		CorrelationID:      correlationID,
		ConversationID:     conversationID,
		InitiatorID:        out.InitiatorID,
		SourceAddress:      out.SourceAddress,
		DestinationAddress: out.DestinationAddress,
		MessageType:        []string{out.MessageType},
		Message:            body,
		SentTime:           sent,
		Headers:            headers,
		Host:               currentHost(),
	}

	data, err := jsoncodec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(env.MessageID, data)
	msg.Metadata = metadata.ToWatermill(metadata.New(
		metadata.KeyMessageType, out.MessageType,
		metadata.KeyCorrelationID, correlationID,
		metadata.KeyConversationID, conversationID,
		metadata.KeyContentType, metadata.ContentType,
		metadata.KeySentTime, sent.Format(time.RFC3339Nano),
		metadata.KeySourceAddress, out.SourceAddress,
		metadata.KeyDestinationAddress, out.DestinationAddress,
	))
	return msg, nil
}

// Open decodes the envelope carried by msg. A body that is plain JSON rather
// than an envelope is accepted as the message itself, with the message type
// taken from the metadata.
func Open(msg *message.Message) (*Envelope, error) {
	if len(msg.Payload) == 0 {
		return nil, ErrEmptyBody
	}

	var env Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil || len(env.MessageType) == 0 || len(env.Message) == 0 {
		if !json.Valid(msg.Payload) {
			return nil, fmt.Errorf("decode envelope: %w", errOrInvalid(err))
		}
		env = Envelope{
			MessageID:     msg.UUID,
			CorrelationID: msg.Metadata.Get(metadata.KeyCorrelationID),
			Message:       json.RawMessage(msg.Payload),
			Headers:       map[string]any{},
		}
		if urn := msg.Metadata.Get(metadata.KeyMessageType); urn != "" {
			env.MessageType = []string{urn}
		}
	}
	if env.CorrelationID == "" {
		env.CorrelationID = msg.Metadata.Get(metadata.KeyCorrelationID)
	}
	return &env, nil
}

// Supports reports whether the envelope declares urn among its types.
func (e *Envelope) Supports(urn string) bool {
	for _, t := range e.MessageType {
		if t == urn {
			return true
		}
	}
	return false
}

// Decode unmarshals the payload into a T.
func Decode[T any](e *Envelope) (T, error) {
	var v T
	if err := jsoncodec.Unmarshal(e.Message, &v); err != nil {
		return v, fmt.Errorf("decode message: %w", err)
	}
	return v, nil
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("invalid JSON")
}
