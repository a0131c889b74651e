package envelope

import "encoding/json"

// Kind tags what the dispatcher should do with an inbound message.
type Kind int

const (
	Accepted Kind = iota
	Ignored
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Ignored:
		return "ignored"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Reasons attached to Ignored outcomes.
const (
	ReasonLivenessProbe = "liveness probe"
	ReasonForeignDevice = "foreign device"
)

// Outcome is the result of inspecting one broker message.
// Signature and Telegram are set only when Kind is Accepted,
// Signature may also be set on an Ignored foreign device message.
type Outcome struct {
	Kind      Kind
	Signature string
	Telegram  string
	Reason    string
}

func Accept(signature, telegram string) Outcome {
	return Outcome{Kind: Accepted, Signature: signature, Telegram: telegram}
}

func Ignore(reason string) Outcome {
	return Outcome{Kind: Ignored, Reason: reason}
}

func Reject(reason string) Outcome {
	return Outcome{Kind: Malformed, Reason: reason}
}

// The broker wraps each P1 telegram like:
//
//	{"datagram": {"signature": "2019-ETI-EMON-V01-D22C51-16405E", "p1": "/ISK5..."}}
type document struct {
	Datagram *datagram `json:"datagram"`
}

type datagram struct {
	Signature json.RawMessage `json:"signature"`
	P1        json.RawMessage `json:"p1"`
}
