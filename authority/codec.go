// Package authority holds the gRPC clients for the ticket and user services.
// The services are authority calls on the settlement path, so every call runs
// behind a short deadline and a circuit breaker. Messages are hand-encoded
// with protowire against the services' stable field numbers; no generated
// stubs are required.
package authority

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// wireMessage is implemented by every request/response in this package.
type wireMessage interface {
	appendWire(b []byte) []byte
	parseWire(b []byte) error
}

// wireCodec satisfies grpc's encoding.Codec for wireMessage values; it is
// forced per call so the connection needs no registered proto types.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("authority: cannot marshal %T", v)
	}
	return msg.appendWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("authority: cannot unmarshal into %T", v)
	}
	return msg.parseWire(data)
}

func (wireCodec) Name() string { return "ticketpay-raw" }

// fieldScanner walks a wire-format message invoking visit for each field.
func scanFields(b []byte, visit func(num protowire.Number, typ protowire.Type, payload []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		size := protowire.ConsumeFieldValue(num, typ, b)
		if size < 0 {
			return protowire.ParseError(size)
		}
		if err := visit(num, typ, b[:size]); err != nil {
			return err
		}
		b = b[size:]
	}
	return nil
}

func consumeString(payload []byte) (string, error) {
	value, n := protowire.ConsumeString(payload)
	if n < 0 {
		return "", protowire.ParseError(n)
	}
	return value, nil
}

func consumeBool(payload []byte) (bool, error) {
	value, n := protowire.ConsumeVarint(payload)
	if n < 0 {
		return false, protowire.ParseError(n)
	}
	return value != 0, nil
}

func appendStringField(b []byte, num protowire.Number, value string) []byte {
	if value == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, value)
}

func appendBoolField(b []byte, num protowire.Number, value bool) []byte {
	if !value {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}
