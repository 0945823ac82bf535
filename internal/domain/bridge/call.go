package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var ErrMalformedCall = errors.New("malformed bridge call")

// Call is one callHandler invocation posted by the page. Field names match
// the message the page-side bridge builds.
type Call struct {
	HandlerName string      `json:"handlerName"`
	CallID      interface{} `json:"_callHandlerID"`
	Secret      string      `json:"_bridgeSecret"`
	Args        string      `json:"args"`
	WindowID    *int64      `json:"_windowId"`
	Origin      string      `json:"origin,omitempty"`
	RequestURL  string      `json:"requestUrl,omitempty"`
	IsMainFrame bool        `json:"isMainFrame"`

	args []json.RawMessage
}

// DecodeCall parses a callHandler message body.
func DecodeCall(raw []byte) (*Call, error) {
	var c Call
	if err := sonic.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}
	if c.HandlerName == "" {
		return nil, fmt.Errorf("%w: missing handler name", ErrMalformedCall)
	}
	if c.CallID == nil {
		return nil, fmt.Errorf("%w: missing call id", ErrMalformedCall)
	}
	if c.Args == "" {
		c.Args = "[]"
	}
	if err := sonic.UnmarshalString(c.Args, &c.args); err != nil {
		return nil, fmt.Errorf("%w: args are not a JSON array: %v", ErrMalformedCall, err)
	}
	return &c, nil
}

// NumArgs returns the number of arguments passed after the handler name.
func (c *Call) NumArgs() int {
	return len(c.args)
}

// Arg decodes argument i into v. Missing arguments decode as JSON null.
func (c *Call) Arg(i int, v interface{}) error {
	if i < 0 || i >= len(c.args) {
		return sonic.UnmarshalString("null", v)
	}
	if err := sonic.Unmarshal(c.args[i], v); err != nil {
		return fmt.Errorf("failed to decode argument %d of %s: %w", i, c.HandlerName, err)
	}
	return nil
}

// RawArg returns argument i as raw JSON.
func (c *Call) RawArg(i int) json.RawMessage {
	if i < 0 || i >= len(c.args) {
		return json.RawMessage("null")
	}
	return c.args[i]
}

// DecodeArgs decodes all arguments as a JSON array into v.
func (c *Call) DecodeArgs(v interface{}) error {
	return sonic.UnmarshalString(c.Args, v)
}
