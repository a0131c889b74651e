package dispatcher

import "github.com/NotCoffee418/p1_logger/pkg/reading"

// Category names the single bucket every handled message ends up in.
type Category string

const (
	Accepted            Category = "accepted"
	IgnoredProbe        Category = "ignored_probe"
	IgnoredForeign      Category = "ignored_foreign"
	MalformedEnvelope   Category = "malformed_envelope"
	UnparseableTelegram Category = "unparseable_telegram"
	IOFailure           Category = "io_failure"
)

var Categories = []Category{
	Accepted,
	IgnoredProbe,
	IgnoredForeign,
	MalformedEnvelope,
	UnparseableTelegram,
	IOFailure,
}

type Result struct {
	Category Category
	Record   *reading.Record // set when a row was produced
	Err      error           // set for malformed, unparseable and io failures
}

// Appender persists one record. Implemented by dailyfile.Sink.
type Appender interface {
	Append(rec reading.Record) error
}

// Observer receives every record after it has been persisted.
// Failures are logged and never affect the row already written.
type Observer interface {
	Name() string
	Observe(rec reading.Record) error
}
