package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports a malformed inbound frame. The caller converts it into
// an error envelope under the synthetic id; it never terminates a connection.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Cause)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// Decode parses one wire frame into an Envelope. The codec is
// transport-agnostic: a frame may have arrived as a socket message or an
// HTTP body.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Envelope{}, &DecodeError{Reason: "empty frame"}
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json", Cause: err}
	}
	if env.Kind == "" {
		return Envelope{}, &DecodeError{Reason: "missing kind"}
	}
	if !env.Kind.Valid() {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("unknown kind %q", env.Kind)}
	}
	return env, nil
}

// Encode serializes an envelope to its wire form. Encoding never fails for a
// validly constructed envelope: payloads are pre-marshalled RawMessage and
// the remaining fields are plain scalars.
func Encode(env Envelope) []byte {
	b, err := json.Marshal(env)
	if err != nil {
		// Only reachable with a hand-built invalid RawMessage.
		panic("protocol: encode envelope: " + err.Error())
	}
	return b
}

// DecodePayload unmarshals an envelope's data into a typed payload struct.
func DecodePayload(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return &DecodeError{Reason: fmt.Sprintf("%s envelope has no data", env.Kind)}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("%s payload", env.Kind), Cause: err}
	}
	return nil
}
