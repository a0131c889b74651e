package reading

import (
	"time"

	"github.com/NotCoffee418/p1_logger/pkg/telegram"
	"github.com/shopspring/decimal"
)

const (
	DateLayout = "2006.01.02"
	TimeLayout = "15:04:05"

	fractionDigits = 3
)

// Normalizer reduces a decoded telegram to the persisted record.
type Normalizer struct {
	loc            *time.Location
	includeTariffs bool
}

func NewNormalizer(loc *time.Location, includeTariffs bool) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc, includeTariffs: includeTariffs}
}

// Normalize builds the record for fields observed at now. Date and time
// come from now in the normalizer's zone, never from the telegram.
func (n *Normalizer) Normalize(fields *telegram.Fields, now time.Time) Record {
	local := now.In(n.loc)

	gas := decimal.Zero
	if fields.Gas != nil {
		gas = fields.Gas.ValueM3
	}

	rec := Record{
		Timestamp: local,
		Date:      local.Format(DateLayout),
		Time:      local.Format(TimeLayout),

		EnergyConsumedTotal:    format(fields.EnergyConsumedTariff1.Add(fields.EnergyConsumedTariff2)),
		EnergyProducedTotal:    format(fields.EnergyProducedTariff1.Add(fields.EnergyProducedTariff2)),
		PowerCurrentlyConsumed: format(fields.PowerConsumed),
		PowerCurrentlyProduced: format(fields.PowerProduced),
		GasConsumed:            format(gas),
	}

	if n.includeTariffs {
		rec.Tariffs = &TariffBreakdown{
			EnergyConsumedTariff1: format(fields.EnergyConsumedTariff1),
			EnergyConsumedTariff2: format(fields.EnergyConsumedTariff2),
			EnergyProducedTariff1: format(fields.EnergyProducedTariff1),
			EnergyProducedTariff2: format(fields.EnergyProducedTariff2),
		}
	}
	return rec
}

func format(d decimal.Decimal) string {
	return d.StringFixed(fractionDigits)
}
