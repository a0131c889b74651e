package meterdb

// MeterDbReading mirrors one daily file row in integer units.
type MeterDbReading struct {
	Timestamp            int64  `db:"timestamp"`
	Date                 string `db:"date"`
	Time                 string `db:"time"`
	ConsumptionWh        uint64 `db:"consumption_wh"`
	ProductionWh         uint64 `db:"production_wh"`
	PowerConsumptionWatt uint32 `db:"power_consumption_watt"`
	PowerProductionWatt  uint32 `db:"power_production_watt"`
	GasConsumptionDM3    uint32 `db:"gas_consumption_dm3"`
}
