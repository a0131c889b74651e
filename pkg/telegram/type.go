package telegram

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// OBIS object identifiers read from a P1 telegram.
type Code string

const (
	EnergyConsumedTariff1 Code = "1-0:1.8.1"
	EnergyConsumedTariff2 Code = "1-0:1.8.2"
	EnergyProducedTariff1 Code = "1-0:2.8.1"
	EnergyProducedTariff2 Code = "1-0:2.8.2"
	PowerConsumed         Code = "1-0:1.7.0"
	PowerProduced         Code = "1-0:2.7.0"

	// Gas is read on M-Bus channel 1-4, so the code is a pattern.
	GasDelivered Code = "0-n:24.2.1"
)

// RequiredCodes lists every field a telegram must carry to be decoded.
var RequiredCodes = []Code{
	EnergyConsumedTariff1,
	EnergyConsumedTariff2,
	EnergyProducedTariff1,
	EnergyProducedTariff2,
	PowerConsumed,
	PowerProduced,
}

var (
	ErrUnparseableTelegram = errors.New("unparseable telegram")

	ErrFieldMissing    = errors.New("field not found")
	ErrFieldDuplicated = errors.New("field appears more than once")
	ErrFieldValue      = errors.New("malformed numeric value")
	ErrCRCMismatch     = errors.New("crc mismatch")
)

// Fields is a fully decoded telegram. Energy is in kWh, power in kW.
type Fields struct {
	EnergyConsumedTariff1 decimal.Decimal
	EnergyConsumedTariff2 decimal.Decimal
	EnergyProducedTariff1 decimal.Decimal
	EnergyProducedTariff2 decimal.Decimal
	PowerConsumed         decimal.Decimal
	PowerProduced         decimal.Decimal

	// Nil when the meter reported no gas reading this cycle.
	Gas *GasReading
}

// GasReading is the hourly gas meter value relayed by the electricity meter.
type GasReading struct {
	Channel   int
	Timestamp string // DSMR YYMMDDhhmmssX, not persisted
	ValueM3   decimal.Decimal
}

// FieldResult is the outcome of matching a single object identifier.
type FieldResult struct {
	Code  Code
	Value decimal.Decimal
	Err   error
}

func (r FieldResult) OK() bool {
	return r.Err == nil
}

type FieldError struct {
	Code Code
	Err  error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
