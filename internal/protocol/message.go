package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"canvas-sync/internal/model"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is the wire envelope. RequestID pairs a query with its reply.
type Message struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("colorpreset", func(fl validator.FieldLevel) bool {
		return model.ValidColorPreset(fl.Field().String())
	})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(UndoBufferPush)
		if p.Entry.Entry == nil {
			sl.ReportError(p.Entry, "Entry", "entry", "required", "")
		}
	}, UndoBufferPush{})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(NodeCreate)
		if p.Node.Payload == nil {
			sl.ReportError(p.Node, "Node", "node", "required", "")
		}
	}, NodeCreate{})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(NodeAdded)
		if p.Node.ID == "" || p.Node.Payload == nil {
			sl.ReportError(p.Node, "Node", "node", "required", "")
		}
	}, NodeAdded{})
}

// New builds a message with payload marshaled into the envelope.
func New(t Type, requestID string, payload any) (Message, error) {
	m := Message{Type: t, RequestID: requestID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("%s: %w", t, err)
		}
		m.Payload = b
	}
	return m, nil
}

// Encode is New followed by json.Marshal.
func Encode(t Type, requestID string, payload any) ([]byte, error) {
	m, err := New(t, requestID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses an envelope and its typed, validated payload.
func Decode(b []byte) (Message, any, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, nil, fmt.Errorf("decode message: %w", err)
	}
	p, err := DecodePayload(m)
	if err != nil {
		return m, nil, err
	}
	return m, p, nil
}

// DecodePayload returns the typed payload value for m.Type, e.g. a
// NodeMove value for TypeNodeMove.
func DecodePayload(m Message) (any, error) {
	switch m.Type {
	case TypeNodeMove:
		return decodeAs[NodeMove](m)
	case TypeNodeBatchMove:
		return decodeAs[NodeBatchMove](m)
	case TypeNodeRename:
		return decodeAs[NodeRename](m)
	case TypeNodeSetColor:
		return decodeAs[NodeSetColor](m)
	case TypeNodeArchive:
		return decodeAs[NodeArchive](m)
	case TypeNodeUnarchive:
		return decodeAs[NodeUnarchive](m)
	case TypeNodeArchiveDelete:
		return decodeAs[NodeArchiveDelete](m)
	case TypeNodeBringToFront:
		return decodeAs[NodeBringToFront](m)
	case TypeNodeReparent:
		return decodeAs[NodeReparent](m)
	case TypeNodeCreate:
		return decodeAs[NodeCreate](m)
	case TypeUndoBufferPush:
		return decodeAs[UndoBufferPush](m)
	case TypeUndoBufferSetCursor:
		return decodeAs[UndoBufferSetCursor](m)
	case TypeNodeSyncRequest:
		return decodeAs[NodeSyncRequest](m)
	case TypeNodeSyncResponse:
		return decodeAs[NodeSyncResponse](m)
	case TypeNodeUpdated:
		return decodeAs[NodeUpdated](m)
	case TypeNodeAdded:
		return decodeAs[NodeAdded](m)
	case TypeNodeRemoved:
		return decodeAs[NodeRemoved](m)
	case TypeValidateDirectory, TypeValidateFile:
		return decodeAs[ValidatePath](m)
	case TypeValidateResult:
		return decodeAs[ValidateResult](m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

func decodeAs[T any](m Message) (T, error) {
	var v T
	if len(m.Payload) > 0 && string(m.Payload) != "null" {
		if err := json.Unmarshal(m.Payload, &v); err != nil {
			return v, fmt.Errorf("%s payload: %w", m.Type, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return v, nil
}
