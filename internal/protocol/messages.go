package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/speechbridge/internal/capability"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeDescribe     MessageType = "describe"
	TypeResult       MessageType = "result"
	TypeCapabilities MessageType = "capabilities"
	TypeSystemEvent  MessageType = "system_event"
	TypeErrorEvent   MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Request asks the server to run one operation. ID is chosen by the client
// and echoed on the reply.
type Request struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Args      capability.Args `json:"args"`
}

// Describe asks for the capability schema with the live voice list.
type Describe struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id"`
}

type Result struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	RequestID string      `json:"request_id"`
	Operation string      `json:"operation"`
	Payload   any         `json:"payload"`
}

type Capabilities struct {
	Type   MessageType       `json:"type"`
	ID     string            `json:"id"`
	Schema capability.Schema `json:"schema"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
	Partial   any         `json:"partial,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeRequest:
		var msg Request
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		if strings.TrimSpace(msg.ID) == "" || strings.TrimSpace(msg.Operation) == "" {
			return nil, errors.New("invalid request: id and operation are required")
		}
		return msg, nil
	case TypeDescribe:
		var msg Describe
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid describe: %w", err)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
