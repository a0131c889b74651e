package dispatcher

import (
	"errors"
	"log/slog"
	"time"

	"github.com/NotCoffee418/p1_logger/pkg/clock"
	"github.com/NotCoffee418/p1_logger/pkg/envelope"
	"github.com/NotCoffee418/p1_logger/pkg/metrics"
	"github.com/NotCoffee418/p1_logger/pkg/reading"
	"github.com/NotCoffee418/p1_logger/pkg/telegram"
)

type Options struct {
	Filter     *envelope.Filter
	Decoder    *telegram.Decoder
	Normalizer *reading.Normalizer
	Sink       Appender
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Observers  []Observer
}

// Dispatcher drives one message at a time through
// filter, decoder, normalizer and sink. It holds no per-message state.
type Dispatcher struct {
	filter     *envelope.Filter
	decoder    *telegram.Decoder
	normalizer *reading.Normalizer
	sink       Appender
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Collector
	observers  []Observer
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Sink == nil {
		return nil, errors.New("dispatcher needs a sink")
	}
	if opts.Normalizer == nil {
		return nil, errors.New("dispatcher needs a normalizer")
	}
	if opts.Decoder == nil {
		opts.Decoder = telegram.NewDecoder(false)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Func(time.Now)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics != nil {
		// Export every category from the start, not only after its first message.
		for _, c := range Categories {
			opts.Metrics.Messages(string(c))
		}
	}

	return &Dispatcher{
		filter:     opts.Filter,
		decoder:    opts.Decoder,
		normalizer: opts.Normalizer,
		sink:       opts.Sink,
		clock:      opts.Clock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		observers:  opts.Observers,
	}, nil
}

// HandleMessage processes one raw broker payload. It never panics on bad
// input; every outcome is reported through the returned Result.
func (d *Dispatcher) HandleMessage(payload []byte) Result {
	start := time.Now()
	res := d.handleMessage(payload)
	d.finish(res, start)
	return res
}

// HandleTelegram processes a bare telegram from a source that is already
// bound to the device of interest, such as a local serial port.
func (d *Dispatcher) HandleTelegram(text string) Result {
	start := time.Now()
	res := d.process(text)
	d.finish(res, start)
	return res
}

func (d *Dispatcher) handleMessage(payload []byte) Result {
	if d.filter == nil {
		return Result{Category: MalformedEnvelope, Err: errors.New("no envelope filter configured")}
	}

	out := d.filter.Inspect(payload)
	switch out.Kind {
	case envelope.Ignored:
		if out.Reason == envelope.ReasonLivenessProbe {
			return Result{Category: IgnoredProbe}
		}
		return Result{Category: IgnoredForeign}
	case envelope.Malformed:
		return Result{Category: MalformedEnvelope, Err: errors.New(out.Reason)}
	case envelope.Accepted:
		return d.process(out.Telegram)
	default:
		return Result{Category: MalformedEnvelope, Err: errors.New("unknown envelope outcome")}
	}
}

func (d *Dispatcher) process(text string) Result {
	fields, err := d.decoder.Decode(text)
	if err != nil {
		return Result{Category: UnparseableTelegram, Err: err}
	}

	rec := d.normalizer.Normalize(fields, d.clock.Now())
	if err := d.sink.Append(rec); err != nil {
		return Result{Category: IOFailure, Err: err}
	}

	for _, o := range d.observers {
		if err := o.Observe(rec); err != nil {
			d.logger.Warn("record observer failed", "observer", o.Name(), "err", err)
			d.metrics.ObserverFailed(o.Name())
		}
	}
	return Result{Category: Accepted, Record: &rec}
}

func (d *Dispatcher) finish(res Result, start time.Time) {
	d.metrics.ObserveMessage(string(res.Category), time.Since(start))

	switch res.Category {
	case Accepted:
		d.logger.Debug("reading stored",
			"date", res.Record.Date,
			"time", res.Record.Time,
			"consumed_kwh", res.Record.EnergyConsumedTotal,
			"produced_kwh", res.Record.EnergyProducedTotal)
	case IgnoredProbe, IgnoredForeign:
		// Most broker traffic belongs to other meters.
	case MalformedEnvelope, UnparseableTelegram:
		d.logger.Warn("message dropped", "category", res.Category, "err", res.Err)
	case IOFailure:
		d.logger.Error("reading lost", "category", res.Category, "err", res.Err)
	}
}
