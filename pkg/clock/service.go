// Package clock resolves "now" in the civil time zone readings are logged in.
package clock

import (
	"time"
	_ "time/tzdata" // Europe/Amsterdam must resolve on hosts without zoneinfo
)

const DefaultTimezone = "Europe/Amsterdam"

type Clock interface {
	Now() time.Time
}

// Zoned reports wall-clock time converted to a fixed location.
type Zoned struct {
	loc *time.Location
	now func() time.Time
}

func NewZoned(loc *time.Location) *Zoned {
	return &Zoned{loc: loc, now: time.Now}
}

// LoadZoned resolves an IANA zone name, e.g. Europe/Amsterdam.
// An empty name means DefaultTimezone.
func LoadZoned(name string) (*Zoned, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	return NewZoned(loc), nil
}

func (z *Zoned) Now() time.Time {
	return z.now().In(z.loc)
}

func (z *Zoned) Location() *time.Location {
	return z.loc
}

// Fixed always reports the same instant. Used in tests.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time {
	return f.T
}

// Func adapts a plain function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}
