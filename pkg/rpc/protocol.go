package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Args are the positional arguments of a call, kept encoded until a
// procedure decodes them
type Args []json.RawMessage

// Kwargs are the keyword arguments of a call
type Kwargs map[string]json.RawMessage

// Decode unmarshals argument i into v
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("missing argument %d (got %d)", i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

// Float returns argument i as a number
func (a Args) Float(i int) (float64, error) {
	var f float64
	err := a.Decode(i, &f)
	return f, err
}

// Int returns argument i as an integer
func (a Args) Int(i int) (int64, error) {
	var n int64
	err := a.Decode(i, &n)
	return n, err
}

// String returns argument i as a string
func (a Args) String(i int) (string, error) {
	var s string
	err := a.Decode(i, &s)
	return s, err
}

// Decode unmarshals the named argument into v. It reports false when the
// argument is absent.
func (k Kwargs) Decode(name string, v any) (bool, error) {
	raw, ok := k[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("argument %q: %w", name, err)
	}
	return true, nil
}

// Request is encoded as [method, args, kwargs]
type Request struct {
	Method string
	Args   Args
	Kwargs Kwargs
}

// NewRequest encodes plain Go values into a Request
func NewRequest(method string, args []any, kwargs map[string]any) (Request, error) {
	req := Request{Method: method, Args: make(Args, 0, len(args)), Kwargs: make(Kwargs, len(kwargs))}
	for i, arg := range args {
		raw, err := encodeValue(arg)
		if err != nil {
			return Request{}, fmt.Errorf("argument %d: %w", i, err)
		}
		req.Args = append(req.Args, raw)
	}
	for name, arg := range kwargs {
		raw, err := encodeValue(arg)
		if err != nil {
			return Request{}, fmt.Errorf("argument %q: %w", name, err)
		}
		req.Kwargs[name] = raw
	}
	return req, nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	args := r.Args
	if args == nil {
		args = Args{}
	}
	kwargs := r.Kwargs
	if kwargs == nil {
		kwargs = Kwargs{}
	}
	return json.Marshal([]any{r.Method, args, kwargs})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	parts, err := splitFrame(data, 3)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &r.Method); err != nil {
		return fmt.Errorf("method: %w", err)
	}
	if err := json.Unmarshal(parts[1], &r.Args); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	if err := json.Unmarshal(parts[2], &r.Kwargs); err != nil {
		return fmt.Errorf("kwargs: %w", err)
	}
	return nil
}

// Response is encoded as [ok, value]. When OK is false Value holds the
// error message as a JSON string.
type Response struct {
	OK    bool
	Value json.RawMessage
}

// Success wraps a procedure result
func Success(value any) (Response, error) {
	raw, err := encodeValue(value)
	if err != nil {
		return Response{}, err
	}
	return Response{OK: true, Value: raw}, nil
}

// Failure wraps an error message
func Failure(msg string) Response {
	raw, _ := json.Marshal(msg)
	return Response{Value: raw}
}

// ErrorMessage returns the message of a failed response
func (r Response) ErrorMessage() string {
	var msg string
	if err := json.Unmarshal(r.Value, &msg); err != nil {
		return string(r.Value)
	}
	return msg
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.OK, nullIfEmpty(r.Value)})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	parts, err := splitFrame(data, 2)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &r.OK); err != nil {
		return fmt.Errorf("ok flag: %w", err)
	}
	r.Value = parts[1]
	return nil
}

// Message is a published frame, encoded as [topic, data]
type Message struct {
	Topic string
	Data  json.RawMessage
}

// NewMessage encodes data under topic
func NewMessage(topic string, data any) (Message, error) {
	raw, err := encodeValue(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Data: raw}, nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{m.Topic, nullIfEmpty(m.Data)})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	parts, err := splitFrame(data, 2)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &m.Topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	m.Data = parts[1]
	return nil
}

func splitFrame(data []byte, n int) ([]json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, err
	}
	if len(parts) != n {
		return nil, fmt.Errorf("frame has %d elements, want %d", len(parts), n)
	}
	return parts, nil
}

func encodeValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid raw JSON value")
		}
		return raw, nil
	}
	return json.Marshal(v)
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
