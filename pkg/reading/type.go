package reading

import "time"

// Column order of the daily file. The file carries no embedded schema,
// so this order is the contract with whatever reads the files.
var Columns = []string{
	"date",
	"time",
	"energy_consumed_total",
	"energy_produced_total",
	"power_currently_consumed",
	"power_currently_produced",
	"gas_consumed",
}

// Appended after Columns when per-tariff output is enabled.
var TariffColumns = []string{
	"energy_consumed_tariff_1",
	"energy_consumed_tariff_2",
	"energy_produced_tariff_1",
	"energy_produced_tariff_2",
}

// Record is one persisted row. Values are already rendered
// with exactly 3 fraction digits.
type Record struct {
	Timestamp time.Time `json:"-"`

	Date string `json:"date"`
	Time string `json:"time"`

	EnergyConsumedTotal    string `json:"energy_consumed_total"`
	EnergyProducedTotal    string `json:"energy_produced_total"`
	PowerCurrentlyConsumed string `json:"power_currently_consumed"`
	PowerCurrentlyProduced string `json:"power_currently_produced"`
	GasConsumed            string `json:"gas_consumed"`

	Tariffs *TariffBreakdown `json:"tariffs,omitempty"`
}

type TariffBreakdown struct {
	EnergyConsumedTariff1 string `json:"energy_consumed_tariff_1"`
	EnergyConsumedTariff2 string `json:"energy_consumed_tariff_2"`
	EnergyProducedTariff1 string `json:"energy_produced_tariff_1"`
	EnergyProducedTariff2 string `json:"energy_produced_tariff_2"`
}

// Row renders the record in column order.
func (r Record) Row() []string {
	row := []string{
		r.Date,
		r.Time,
		r.EnergyConsumedTotal,
		r.EnergyProducedTotal,
		r.PowerCurrentlyConsumed,
		r.PowerCurrentlyProduced,
		r.GasConsumed,
	}
	if r.Tariffs != nil {
		row = append(row,
			r.Tariffs.EnergyConsumedTariff1,
			r.Tariffs.EnergyConsumedTariff2,
			r.Tariffs.EnergyProducedTariff1,
			r.Tariffs.EnergyProducedTariff2,
		)
	}
	return row
}

// Header returns the column names matching Row for the given mode.
func Header(includeTariffs bool) []string {
	header := append([]string{}, Columns...)
	if includeTariffs {
		header = append(header, TariffColumns...)
	}
	return header
}
