// ABOUTME: Classifies a decoded frame as incoming call, notification, or response
// ABOUTME: Unparseable or unrecognised frames become *ProtocolError and are dropped by the caller

package acp

import (
	"errors"
	"fmt"

	"github.com/mauromedda/acp-engine-go/pkg/jsonvalue"
)

// MessageKind is the shape of an inbound frame.
type MessageKind int

const (
	KindIncomingCall MessageKind = iota + 1
	KindNotification
	KindResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindIncomingCall:
		return "call"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// Message is a classified inbound frame.
type Message struct {
	Kind   MessageKind
	ID     jsonvalue.Value
	Method string
	Params jsonvalue.Value
	Result jsonvalue.Value
	Error  *RPCError
}

// NumericID returns the id as an integer when it is one. Responses to our
// requests always carry the integer ids we assigned.
func (m Message) NumericID() (int64, bool) {
	return m.ID.AsInt()
}

// Classify parses a frame and determines its kind.
func Classify(frame []byte) (Message, error) {
	v, err := jsonvalue.Parse(frame)
	if err != nil {
		return Message{}, &ProtocolError{Err: err, Frame: frame}
	}
	if v.Kind() != jsonvalue.KindObject {
		return Message{}, &ProtocolError{Err: fmt.Errorf("frame is a JSON %s, not an object", v.Kind()), Frame: frame}
	}

	id, hasID := v.Get("id")
	if hasID && id.IsNull() {
		hasID = false
	}
	if hasID {
		switch id.Kind() {
		case jsonvalue.KindString, jsonvalue.KindInt, jsonvalue.KindFloat:
		default:
			return Message{}, &ProtocolError{Err: fmt.Errorf("id is a JSON %s", id.Kind()), Frame: frame}
		}
	}

	methodVal, hasMethod := v.Get("method")
	var method string
	if hasMethod {
		s, ok := methodVal.AsString()
		if !ok {
			return Message{}, &ProtocolError{Err: errors.New("method is not a string"), Frame: frame}
		}
		method = s
	}

	switch {
	case hasID && hasMethod:
		return Message{Kind: KindIncomingCall, ID: id, Method: method, Params: v.Lookup("params")}, nil
	case hasMethod:
		return Message{Kind: KindNotification, Method: method, Params: v.Lookup("params")}, nil
	case hasID:
		msg := Message{Kind: KindResponse, ID: id, Result: v.Lookup("result")}
		if errVal := v.Lookup("error"); !errVal.IsNull() {
			rpcErr, err := parseRPCError(errVal)
			if err != nil {
				return Message{}, &ProtocolError{Err: err, Frame: frame}
			}
			msg.Error = rpcErr
		}
		return msg, nil
	}
	return Message{}, &ProtocolError{Err: errors.New("neither id nor method present"), Frame: frame}
}

func parseRPCError(v jsonvalue.Value) (*RPCError, error) {
	if v.Kind() != jsonvalue.KindObject {
		return nil, fmt.Errorf("error is a JSON %s, not an object", v.Kind())
	}
	code, ok := v.Lookup("code").AsInt()
	if !ok {
		return nil, errors.New("error code is not an integer")
	}
	rpcErr := &RPCError{Code: int(code), Message: v.StringAt("message")}
	if data, ok := v.Get("data"); ok && !data.IsNull() {
		rpcErr.Data = data
	}
	return rpcErr, nil
}
