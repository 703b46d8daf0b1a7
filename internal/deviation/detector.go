package deviation

import (
	"fmt"
	"strings"
	"time"

	"riskwatch/internal/domain"
)

// Table holds the per-axis multiplier policy. All values come from the named
// threshold table loaded at process start, never hardcoded per call.
type Table struct {
	AmountEpsilon     float64
	AmountCeiling     float64
	FreqCeiling       float64
	TemporalBonus     float64
	LocationBonus     float64
	DeviceBonus       float64
	VelocityAxisCount int
	NewAccountDays    int
}

func DefaultTable() Table {
	return Table{
		AmountEpsilon:     0.01,
		AmountCeiling:     5.0,
		FreqCeiling:       4.0,
		TemporalBonus:     1.5,
		LocationBonus:     1.4,
		DeviceBonus:       1.3,
		VelocityAxisCount: 2,
		NewAccountDays:    30,
	}
}

func (t Table) normalized() Table {
	d := DefaultTable()
	if t.AmountEpsilon <= 0 {
		t.AmountEpsilon = d.AmountEpsilon
	}
	if t.AmountCeiling < 1 {
		t.AmountCeiling = d.AmountCeiling
	}
	if t.FreqCeiling < 1 {
		t.FreqCeiling = d.FreqCeiling
	}
	if t.TemporalBonus < 1 {
		t.TemporalBonus = d.TemporalBonus
	}
	if t.LocationBonus < 1 {
		t.LocationBonus = d.LocationBonus
	}
	if t.DeviceBonus < 1 {
		t.DeviceBonus = d.DeviceBonus
	}
	if t.VelocityAxisCount <= 0 {
		t.VelocityAxisCount = d.VelocityAxisCount
	}
	if t.NewAccountDays <= 0 {
		t.NewAccountDays = d.NewAccountDays
	}
	return t
}

// Event is the unit under evaluation. RecentCount is the number of events in
// the trailing frequency window, including this one.
type Event struct {
	Amount      float64
	Timestamp   time.Time
	Location    domain.Location
	DeviceID    string
	RecentCount int
}

func (e Event) Validate() error {
	if e.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", domain.ErrInvalidEvent)
	}
	return nil
}

// Detect compares an event against the baseline along independent axes and
// returns the fresh DeviationSet. Axes are order-insensitive; the boolean
// flags are a final pass over the completed set.
func Detect(b domain.Baseline, ev Event, tbl Table) (domain.DeviationSet, error) {
	if err := ev.Validate(); err != nil {
		return domain.DeviationSet{}, err
	}
	tbl = tbl.normalized()

	set := domain.DeviationSet{
		Deviations: []domain.Deviation{
			amountAxis(b, ev, tbl),
			frequencyAxis(b, ev, tbl),
			temporalAxis(b, ev, tbl),
			locationAxis(b, ev, tbl),
			deviceAxis(b, ev, tbl),
		},
	}

	set.NewAccountFlag = b.AccountAgeDays < tbl.NewAccountDays
	set.VelocityFlag = triggeredCount(set) >= tbl.VelocityAxisCount

	return set, nil
}

func amountAxis(b domain.Baseline, ev Event, tbl Table) domain.Deviation {
	base := b.AvgTransactionAmount
	if base < tbl.AmountEpsilon {
		base = tbl.AmountEpsilon
	}
	deviation := (ev.Amount - b.AvgTransactionAmount) / base
	if deviation < 0 {
		deviation = 0
	}
	multiplier := clampMultiplier(1+deviation, tbl.AmountCeiling)
	return domain.Deviation{
		Axis:          domain.AxisAmount,
		Magnitude:     deviation,
		Multiplier:    multiplier,
		BaselineValue: fmt.Sprintf("avg %.2f", b.AvgTransactionAmount),
		CurrentValue:  fmt.Sprintf("%.2f", ev.Amount),
		Triggered:     deviation > 0,
	}
}

func frequencyAxis(b domain.Baseline, ev Event, tbl Table) domain.Deviation {
	expected := b.AvgTransactionsPerDay
	if expected < tbl.AmountEpsilon {
		expected = tbl.AmountEpsilon
	}
	deviation := float64(ev.RecentCount)/expected - 1
	if deviation < 0 {
		deviation = 0
	}
	multiplier := clampMultiplier(1+deviation, tbl.FreqCeiling)
	return domain.Deviation{
		Axis:          domain.AxisFrequency,
		Magnitude:     deviation,
		Multiplier:    multiplier,
		BaselineValue: fmt.Sprintf("%.2f/day", b.AvgTransactionsPerDay),
		CurrentValue:  fmt.Sprintf("%d in window", ev.RecentCount),
		Triggered:     deviation > 0,
	}
}

func temporalAxis(b domain.Baseline, ev Event, tbl Table) domain.Deviation {
	hour := ev.Timestamp.UTC().Hour()
	unusual := !b.IsTypicalHour(hour)
	multiplier := 1.0
	if unusual {
		multiplier = tbl.TemporalBonus
	}
	return domain.Deviation{
		Axis:          domain.AxisTemporal,
		Magnitude:     boolMagnitude(unusual),
		Multiplier:    multiplier,
		BaselineValue: typicalHoursLabel(b),
		CurrentValue:  fmt.Sprintf("hour %02d", hour),
		Triggered:     unusual,
	}
}

func locationAxis(b domain.Baseline, ev Event, tbl Table) domain.Deviation {
	isNew := !ev.Location.IsZero() && !b.KnowsLocation(ev.Location)
	multiplier := 1.0
	if isNew {
		multiplier = tbl.LocationBonus
	}
	return domain.Deviation{
		Axis:          domain.AxisLocation,
		Magnitude:     boolMagnitude(isNew),
		Multiplier:    multiplier,
		BaselineValue: fmt.Sprintf("%d known locations", len(b.CommonLocations)),
		CurrentValue:  ev.Location.Key(),
		Triggered:     isNew,
	}
}

func deviceAxis(b domain.Baseline, ev Event, tbl Table) domain.Deviation {
	isNew := ev.DeviceID != "" && !b.KnowsDevice(ev.DeviceID)
	multiplier := 1.0
	if isNew {
		multiplier = tbl.DeviceBonus
	}
	return domain.Deviation{
		Axis:          domain.AxisDevice,
		Magnitude:     boolMagnitude(isNew),
		Multiplier:    multiplier,
		BaselineValue: fmt.Sprintf("%d known devices, consistency %.2f", len(b.KnownDevices), b.DeviceConsistency),
		CurrentValue:  ev.DeviceID,
		Triggered:     isNew,
	}
}

func triggeredCount(set domain.DeviationSet) int {
	count := 0
	for _, d := range set.Deviations {
		if d.Triggered {
			count++
		}
	}
	return count
}

func clampMultiplier(m, ceiling float64) float64 {
	if m < 1 {
		return 1
	}
	if m > ceiling {
		return ceiling
	}
	return m
}

func boolMagnitude(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func typicalHoursLabel(b domain.Baseline) string {
	if b.AllHoursTypical {
		return "all hours typical"
	}
	parts := make([]string, 0, len(b.TypicalHours))
	for _, h := range b.TypicalHours {
		parts = append(parts, fmt.Sprintf("%02d", h))
	}
	return "typical hours " + strings.Join(parts, ",")
}
