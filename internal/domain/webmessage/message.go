package webmessage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/pichillilorenzo/flutter-inappwebview-sub003/internal/shared/utils"
)

// MessageType tells how Message data is carried.
type MessageType int

const (
	TypeString      MessageType = 0
	TypeArrayBuffer MessageType = 1
)

// Message is a web message as it crosses the bridge: {data, type}. String
// messages carry Data; array buffer messages carry Bytes.
type Message struct {
	Type  MessageType
	Data  string
	Bytes []byte
}

// StringMessage returns a string message.
func StringMessage(s string) *Message {
	return &Message{Type: TypeString, Data: s}
}

// BytesMessage returns an array buffer message.
func BytesMessage(b []byte) *Message {
	return &Message{Type: TypeArrayBuffer, Bytes: b}
}

// String returns the data as text.
func (m *Message) String() string {
	if m == nil {
		return ""
	}
	if m.Type == TypeArrayBuffer {
		return string(m.Bytes)
	}
	return m.Data
}

type wireMessage struct {
	Data json.RawMessage `json:"data"`
	Type MessageType     `json:"type"`
}

// MarshalJSON encodes the {data, type} shape.
func (m Message) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteString(`{"data":`)
	if m.Type == TypeArrayBuffer {
		b.WriteString(byteArray(m.Bytes))
	} else {
		data, err := sonic.MarshalString(m.Data)
		if err != nil {
			return nil, err
		}
		b.WriteString(data)
	}
	b.WriteString(`,"type":`)
	b.WriteString(strconv.Itoa(int(m.Type)))
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON decodes the {data, type} shape. Non-string data of a string
// message keeps its JSON text.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := sonic.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	*m = Message{Type: w.Type}
	raw := strings.TrimSpace(string(w.Data))
	if raw == "" || raw == "null" {
		return nil
	}

	switch w.Type {
	case TypeArrayBuffer:
		var values []int
		if err := sonic.UnmarshalString(raw, &values); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		m.Bytes = make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return fmt.Errorf("%w: byte %d out of range", ErrInvalidMessage, v)
			}
			m.Bytes[i] = byte(v)
		}
	case TypeString:
		if raw[0] == '"' {
			return sonic.UnmarshalString(raw, &m.Data)
		}
		m.Data = raw
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidMessage, w.Type)
	}
	return nil
}

// jsValue renders the message data as a page-side expression.
func jsValue(m *Message) string {
	switch {
	case m == nil:
		return "null"
	case m.Type == TypeArrayBuffer:
		return "new Uint8Array(" + byteArray(m.Bytes) + ").buffer"
	default:
		return utils.JSString(m.Data)
	}
}

func byteArray(b []byte) string {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, c := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(c), 10)
	}
	return string(append(out, ']'))
}
