// MeterDB optionally mirrors every stored reading into SQLite so it can be
// queried without parsing the daily files. The daily files stay the record
// of truth; this database is written only by p1_logger.
package meterdb

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/NotCoffee418/p1_logger/pkg/esmutils"
	"github.com/NotCoffee418/p1_logger/pkg/reading"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open meter db %s: %w", path, err)
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
	if _, err := db.Exec("SELECT 1 FROM readings LIMIT 1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("meter db migrations not applied: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Name() string {
	return "meterdb"
}

// Observe stores rec. It satisfies dispatcher.Observer.
func (s *Store) Observe(rec reading.Record) error {
	row, err := FromRecord(rec)
	if err != nil {
		return err
	}
	return s.InsertReading(row)
}

func (s *Store) InsertReading(reading *MeterDbReading) error {
	_, err := s.db.Exec(
		"INSERT INTO readings "+
			"(timestamp, date, time, consumption_wh, production_wh, "+
			"power_consumption_watt, power_production_watt, gas_consumption_dm3) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		reading.Timestamp,
		reading.Date,
		reading.Time,
		reading.ConsumptionWh,
		reading.ProductionWh,
		reading.PowerConsumptionWatt,
		reading.PowerProductionWatt,
		reading.GasConsumptionDM3,
	)
	return err
}

// ReadingsForDate returns the rows of one local date (YYYY.MM.DD) in insert order.
func (s *Store) ReadingsForDate(date string) ([]MeterDbReading, error) {
	rows, err := s.db.Query(
		"SELECT timestamp, date, time, consumption_wh, production_wh, "+
			"power_consumption_watt, power_production_watt, gas_consumption_dm3 "+
			"FROM readings WHERE date = ? ORDER BY id",
		date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeterDbReading
	for rows.Next() {
		var r MeterDbReading
		if err := rows.Scan(
			&r.Timestamp,
			&r.Date,
			&r.Time,
			&r.ConsumptionWh,
			&r.ProductionWh,
			&r.PowerConsumptionWatt,
			&r.PowerProductionWatt,
			&r.GasConsumptionDM3,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func FromRecord(rec reading.Record) (*MeterDbReading, error) {
	consumed, err := esmutils.ParseFixed(rec.EnergyConsumedTotal)
	if err != nil {
		return nil, fmt.Errorf("energy consumed: %w", err)
	}
	produced, err := esmutils.ParseFixed(rec.EnergyProducedTotal)
	if err != nil {
		return nil, fmt.Errorf("energy produced: %w", err)
	}
	powerIn, err := esmutils.ParseFixed(rec.PowerCurrentlyConsumed)
	if err != nil {
		return nil, fmt.Errorf("power consumed: %w", err)
	}
	powerOut, err := esmutils.ParseFixed(rec.PowerCurrentlyProduced)
	if err != nil {
		return nil, fmt.Errorf("power produced: %w", err)
	}
	gas, err := esmutils.ParseFixed(rec.GasConsumed)
	if err != nil {
		return nil, fmt.Errorf("gas: %w", err)
	}

	return &MeterDbReading{
		Timestamp:            rec.Timestamp.Unix(),
		Date:                 rec.Date,
		Time:                 rec.Time,
		ConsumptionWh:        esmutils.KwhToWh(consumed),
		ProductionWh:         esmutils.KwhToWh(produced),
		PowerConsumptionWatt: esmutils.KwToW(powerIn),
		PowerProductionWatt:  esmutils.KwToW(powerOut),
		GasConsumptionDM3:    esmutils.M3ToDM3(gas),
	}, nil
}
