package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DefaultProbeMarker is published by the broker as a liveness probe.
const DefaultProbeMarker = "hello"

// Filter decides whether a broker message carries a telegram from the
// device of interest.
type Filter struct {
	signature   string
	probeMarker []byte
}

func NewFilter(signature string) *Filter {
	return &Filter{
		signature:   signature,
		probeMarker: []byte(DefaultProbeMarker),
	}
}

// Inspect classifies a raw payload. It never fails: anything it cannot
// make sense of is reported as Malformed.
func (f *Filter) Inspect(payload []byte) Outcome {
	if !utf8.Valid(payload) {
		return Reject("payload is not valid utf-8")
	}
	if bytes.Contains(payload, f.probeMarker) {
		return Ignore(ReasonLivenessProbe)
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Reject(fmt.Sprintf("decode envelope: %v", err))
	}
	if doc.Datagram == nil {
		return Reject("envelope has no datagram object")
	}

	signature, err := stringField(doc.Datagram.Signature, "signature")
	if err != nil {
		return Reject(err.Error())
	}
	if signature != f.signature {
		out := Ignore(ReasonForeignDevice)
		out.Signature = signature
		return out
	}

	// p1 is only looked at for our own device.
	telegram, err := stringField(doc.Datagram.P1, "p1")
	if err != nil {
		return Reject(err.Error())
	}
	return Accept(signature, telegram)
}

func stringField(raw json.RawMessage, name string) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("datagram has no %s", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("datagram %s is not a string", name)
	}
	return s, nil
}
