package telegram

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

type fieldPattern struct {
	code Code
	unit string
	re   *regexp.Regexp
}

// Pre-compiled patterns, one per required object identifier.
// Group 1 is the value, group 2 the unit tag.
var fieldPatterns = map[Code]fieldPattern{
	EnergyConsumedTariff1: newFieldPattern(EnergyConsumedTariff1, "kWh"),
	EnergyConsumedTariff2: newFieldPattern(EnergyConsumedTariff2, "kWh"),
	EnergyProducedTariff1: newFieldPattern(EnergyProducedTariff1, "kWh"),
	EnergyProducedTariff2: newFieldPattern(EnergyProducedTariff2, "kWh"),
	PowerConsumed:         newFieldPattern(PowerConsumed, "kW"),
	PowerProduced:         newFieldPattern(PowerProduced, "kW"),
}

// 0-1:24.2.1(250606143000S)(01234.567*m3)
var gasPattern = regexp.MustCompile(`0-([1-4]):24\.2\.1\(([0-9A-Za-z]*)\)\(?(\d*\.\d*)\*(m3)\)`)

func newFieldPattern(code Code, unit string) fieldPattern {
	expr := regexp.QuoteMeta(string(code)) + `\((\d*\.\d*)\*(` + regexp.QuoteMeta(unit) + `)\)`
	return fieldPattern{
		code: code,
		unit: unit,
		re:   regexp.MustCompile(expr),
	}
}

// Decoder turns raw telegram text into Fields.
type Decoder struct {
	verifyCRC bool
}

func NewDecoder(verifyCRC bool) *Decoder {
	return &Decoder{verifyCRC: verifyCRC}
}

var defaultDecoder = NewDecoder(false)

// Decode parses text with CRC verification disabled.
func Decode(text string) (*Fields, error) {
	return defaultDecoder.Decode(text)
}

// Decode returns the complete field set or an error wrapping
// ErrUnparseableTelegram. It never returns a partial result.
func (d *Decoder) Decode(text string) (*Fields, error) {
	if d.verifyCRC {
		if err := VerifyCRC(text); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnparseableTelegram, err)
		}
	}

	results := make(map[Code]FieldResult, len(RequiredCodes))
	var errs []error
	for _, code := range RequiredCodes {
		res := MatchField(code, text)
		if !res.OK() {
			errs = append(errs, res.Err)
			continue
		}
		results[code] = res
	}

	gas, err := matchGas(text)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrUnparseableTelegram, errors.Join(errs...))
	}

	return &Fields{
		EnergyConsumedTariff1: results[EnergyConsumedTariff1].Value,
		EnergyConsumedTariff2: results[EnergyConsumedTariff2].Value,
		EnergyProducedTariff1: results[EnergyProducedTariff1].Value,
		EnergyProducedTariff2: results[EnergyProducedTariff2].Value,
		PowerConsumed:         results[PowerConsumed].Value,
		PowerProduced:         results[PowerProduced].Value,
		Gas:                   gas,
	}, nil
}

// MatchField locates a single required object identifier in text.
func MatchField(code Code, text string) FieldResult {
	pattern, ok := fieldPatterns[code]
	if !ok {
		return FieldResult{Code: code, Err: &FieldError{Code: code, Err: errors.New("unknown object identifier")}}
	}

	matches := pattern.re.FindAllStringSubmatch(text, -1)
	switch len(matches) {
	case 0:
		return FieldResult{Code: code, Err: &FieldError{Code: code, Err: ErrFieldMissing}}
	case 1:
	default:
		return FieldResult{Code: code, Err: &FieldError{Code: code, Err: ErrFieldDuplicated}}
	}

	value, err := parseValue(matches[0][1])
	if err != nil {
		return FieldResult{Code: code, Err: &FieldError{Code: code, Err: err}}
	}
	return FieldResult{Code: code, Value: value}
}

func matchGas(text string) (*GasReading, error) {
	match := gasPattern.FindStringSubmatch(text)
	if match == nil {
		return nil, nil
	}

	channel, err := strconv.Atoi(match[1])
	if err != nil {
		return nil, &FieldError{Code: GasDelivered, Err: err}
	}
	value, err := parseValue(match[3])
	if err != nil {
		return nil, &FieldError{Code: GasDelivered, Err: err}
	}

	return &GasReading{
		Channel:   channel,
		Timestamp: match[2],
		ValueM3:   value,
	}, nil
}

// Values carry leading zeros, e.g. 000123.456.
func parseValue(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrFieldValue, raw)
	}
	return value, nil
}
