package dispatcher

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/NotCoffee418/p1_logger/pkg/clock"
	"github.com/NotCoffee418/p1_logger/pkg/dailyfile"
	"github.com/NotCoffee418/p1_logger/pkg/envelope"
	"github.com/NotCoffee418/p1_logger/pkg/metrics"
	"github.com/NotCoffee418/p1_logger/pkg/reading"
	"github.com/NotCoffee418/p1_logger/pkg/telegram"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const mySignature = "2019-ETI-EMON-V01-D22C51-16405E"

const scenarioTelegram = "/ISK5\\2M550T-1012\r\n\r\n" +
	"0-0:1.0.0(250606143012S)\r\n" +
	"1-0:1.8.1(000123.456*kWh)\r\n" +
	"1-0:1.8.2(000000.006*kWh)\r\n" +
	"1-0:2.8.1(000045.000*kWh)\r\n" +
	"1-0:2.8.2(000000.000*kWh)\r\n" +
	"0-0:96.14.0(0001)\r\n" +
	"1-0:1.7.0(00.345*kW)\r\n" +
	"1-0:2.7.0(00.000*kW)\r\n" +
	"!\r\n"

type countingSink struct {
	records []reading.Record
	err     error
}

func (s *countingSink) Append(rec reading.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type failingObserver struct{ calls int }

func (o *failingObserver) Name() string { return "failing" }

func (o *failingObserver) Observe(reading.Record) error {
	o.calls++
	return errors.New("observer down")
}

func amsterdam(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func envelopeFor(t *testing.T, signature, p1 string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"datagram": map[string]any{"signature": signature, "p1": p1},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func newDispatcher(t *testing.T, sink Appender, clk clock.Clock, m *metrics.Collector, observers ...Observer) *Dispatcher {
	t.Helper()
	d, err := New(Options{
		Filter:     envelope.NewFilter(mySignature),
		Decoder:    telegram.NewDecoder(false),
		Normalizer: reading.NewNormalizer(amsterdam(t), false),
		Sink:       sink,
		Clock:      clk,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:    m,
		Observers:  observers,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestEndToEndScenario(t *testing.T) {
	dir := t.TempDir()
	sink, err := dailyfile.New(dailyfile.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	now := time.Date(2025, 6, 6, 12, 30, 15, 0, time.UTC)
	d := newDispatcher(t, sink, clock.Fixed{T: now}, nil)

	res := d.HandleMessage(envelopeFor(t, mySignature, scenarioTelegram))
	if res.Category != Accepted {
		t.Fatalf("expected accepted, got %s: %v", res.Category, res.Err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "20250606.csv"))
	if err != nil {
		t.Fatalf("read daily file: %v", err)
	}
	if got, want := string(data), "2025.06.06,14:30:15,123.462,45.000,0.345,0.000,0.000\n"; got != want {
		t.Fatalf("row mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestForeignSignatureNeverWrites(t *testing.T) {
	sink := &countingSink{}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	for i := 0; i < 25; i++ {
		res := d.HandleMessage(envelopeFor(t, "2019-ETI-EMON-V01-FFFFFF-000000", scenarioTelegram))
		if res.Category != IgnoredForeign {
			t.Fatalf("expected ignored_foreign, got %s", res.Category)
		}
	}
	if len(sink.records) != 0 {
		t.Fatalf("expected zero writes, got %d", len(sink.records))
	}
}

func TestLivenessProbeNeverWrites(t *testing.T) {
	sink := &countingSink{}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	res := d.HandleMessage([]byte("hello"))
	if res.Category != IgnoredProbe {
		t.Fatalf("expected ignored_probe, got %s", res.Category)
	}
	if len(sink.records) != 0 {
		t.Fatalf("probe produced a write")
	}
}

func TestReplayedEnvelopeWritesTwice(t *testing.T) {
	// No deduplication: a replayed envelope is a second row.
	sink := &countingSink{}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	msg := envelopeFor(t, mySignature, scenarioTelegram)
	for i := 0; i < 2; i++ {
		if res := d.HandleMessage(msg); res.Category != Accepted {
			t.Fatalf("replay %d: got %s: %v", i, res.Category, res.Err)
		}
	}
	if len(sink.records) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sink.records))
	}
	if sink.records[0].Row()[2] != sink.records[1].Row()[2] {
		t.Fatalf("replayed rows differ: %v vs %v", sink.records[0].Row(), sink.records[1].Row())
	}
}

func TestUnparseableTelegramIsDroppedAndListenerContinues(t *testing.T) {
	sink := &countingSink{}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	broken := strings.Replace(scenarioTelegram, "1-0:2.8.2(000000.000*kWh)\r\n", "", 1)
	res := d.HandleMessage(envelopeFor(t, mySignature, broken))
	if res.Category != UnparseableTelegram {
		t.Fatalf("expected unparseable_telegram, got %s", res.Category)
	}
	if !errors.Is(res.Err, telegram.ErrUnparseableTelegram) {
		t.Fatalf("expected ErrUnparseableTelegram, got %v", res.Err)
	}

	if res := d.HandleMessage(envelopeFor(t, mySignature, scenarioTelegram)); res.Category != Accepted {
		t.Fatalf("next message not accepted: %s", res.Category)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected exactly 1 row, got %d", len(sink.records))
	}
}

func TestMalformedEnvelope(t *testing.T) {
	sink := &countingSink{}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	for _, body := range []string{"", "{", `{"datagram": 1}`, `{"datagram": {"p1": "x"}}`} {
		res := d.HandleMessage([]byte(body))
		if res.Category != MalformedEnvelope {
			t.Fatalf("%q: expected malformed_envelope, got %s", body, res.Category)
		}
		if res.Err == nil {
			t.Fatalf("%q: malformed result without error", body)
		}
	}
	if len(sink.records) != 0 {
		t.Fatalf("malformed envelope produced a write")
	}
}

func TestIOFailureIsReported(t *testing.T) {
	sink := &countingSink{err: dailyfile.ErrAppendFailed}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	res := d.HandleMessage(envelopeFor(t, mySignature, scenarioTelegram))
	if res.Category != IOFailure {
		t.Fatalf("expected io_failure, got %s", res.Category)
	}
	if !errors.Is(res.Err, dailyfile.ErrAppendFailed) {
		t.Fatalf("expected ErrAppendFailed, got %v", res.Err)
	}
}

func TestObserverFailureKeepsRow(t *testing.T) {
	sink := &countingSink{}
	obs := &failingObserver{}
	m := metrics.New()
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, m, obs)

	if res := d.HandleMessage(envelopeFor(t, mySignature, scenarioTelegram)); res.Category != Accepted {
		t.Fatalf("expected accepted, got %s", res.Category)
	}
	if obs.calls != 1 || len(sink.records) != 1 {
		t.Fatalf("observer calls %d, rows %d", obs.calls, len(sink.records))
	}
}

func TestEveryMessageIsCountedOnce(t *testing.T) {
	m := metrics.New()
	d := newDispatcher(t, &countingSink{}, clock.Fixed{T: time.Now()}, m)

	d.HandleMessage([]byte("hello"))
	d.HandleMessage(envelopeFor(t, "other", scenarioTelegram))
	d.HandleMessage(envelopeFor(t, "other", scenarioTelegram))
	d.HandleMessage([]byte("{"))
	d.HandleMessage(envelopeFor(t, mySignature, "/X\r\n!"))
	d.HandleMessage(envelopeFor(t, mySignature, scenarioTelegram))

	want := map[Category]float64{
		IgnoredProbe:        1,
		IgnoredForeign:      2,
		MalformedEnvelope:   1,
		UnparseableTelegram: 1,
		Accepted:            1,
		IOFailure:           0,
	}
	for _, c := range Categories {
		if got := testutil.ToFloat64(m.Messages(string(c))); got != want[c] {
			t.Errorf("%s: got %v want %v", c, got, want[c])
		}
	}
}

func TestEveryCategoryExportedBeforeFirstMessage(t *testing.T) {
	m := metrics.New()
	newDispatcher(t, &countingSink{}, clock.Fixed{T: time.Now()}, m)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, c := range Categories {
		series := `p1_logger_messages_total{category="` + string(c) + `"} 0`
		if !strings.Contains(body, series) {
			t.Errorf("missing %s", series)
		}
	}
}

func TestHandleTelegramSkipsEnvelope(t *testing.T) {
	sink := &countingSink{}
	d := newDispatcher(t, sink, clock.Fixed{T: time.Now()}, nil)

	if res := d.HandleTelegram(scenarioTelegram); res.Category != Accepted {
		t.Fatalf("expected accepted, got %s: %v", res.Category, res.Err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected one row, got %d", len(sink.records))
	}
}

func TestMidnightRolloverAcrossMessages(t *testing.T) {
	dir := t.TempDir()
	sink, err := dailyfile.New(dailyfile.Options{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	// 21:59:50 and 22:00:10 UTC straddle midnight in Amsterdam summer time.
	instants := []time.Time{
		time.Date(2025, 6, 6, 21, 59, 50, 0, time.UTC),
		time.Date(2025, 6, 6, 22, 0, 10, 0, time.UTC),
	}
	i := 0
	clk := clock.Func(func() time.Time { return instants[i] })
	d := newDispatcher(t, sink, clk, nil)

	msg := envelopeFor(t, mySignature, scenarioTelegram)
	for i = range instants {
		if res := d.HandleMessage(msg); res.Category != Accepted {
			t.Fatalf("message %d: %s: %v", i, res.Category, res.Err)
		}
	}

	first, err := os.ReadFile(filepath.Join(dir, "20250606.csv"))
	if err != nil {
		t.Fatalf("read first day: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "20250607.csv"))
	if err != nil {
		t.Fatalf("read second day: %v", err)
	}
	if got := string(first); got != "2025.06.06,23:59:50,123.462,45.000,0.345,0.000,0.000\n" {
		t.Fatalf("first day: %q", got)
	}
	if got := string(second); got != "2025.06.07,00:00:10,123.462,45.000,0.345,0.000,0.000\n" {
		t.Fatalf("second day: %q", got)
	}
}
