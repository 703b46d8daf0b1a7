package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInsufficientHistory means a baseline cannot be computed and no
	// default baseline was supplied by the caller.
	ErrInsufficientHistory = errors.New("insufficient history for baseline")
	// ErrInvalidEvent means the event is missing required fields and was
	// rejected before any scoring work.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrNarrativeUnavailable means the narrative collaborator failed; it is
	// recovered locally with the template narrative and never surfaced.
	ErrNarrativeUnavailable = errors.New("narrative unavailable")
)

type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "LOW"
	SeverityMedium   SeverityLevel = "MEDIUM"
	SeverityHigh     SeverityLevel = "HIGH"
	SeverityCritical SeverityLevel = "CRITICAL"
)

func (s SeverityLevel) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverityLevel resolves wire names, case-insensitively.
func ParseSeverityLevel(raw string) (SeverityLevel, error) {
	s := SeverityLevel(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown severity level: %q", raw)
	}
	return s, nil
}

type PressureLevel string

const (
	PressureStable   PressureLevel = "STABLE"
	PressureElevated PressureLevel = "ELEVATED"
	PressureHigh     PressureLevel = "HIGH_PRESSURE"
)

func (p PressureLevel) IsValid() bool {
	switch p {
	case PressureStable, PressureElevated, PressureHigh:
		return true
	}
	return false
}

// ParsePressureLevel resolves wire names. "HIGH" is a legacy alias for
// HIGH_PRESSURE accepted at the boundary only; HIGH_PRESSURE is the single
// internal value.
func ParsePressureLevel(raw string) (PressureLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if upper == "HIGH" {
		return PressureHigh, nil
	}
	p := PressureLevel(upper)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown pressure level: %q", raw)
	}
	return p, nil
}

type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

func (l Location) Key() string {
	return strings.ToLower(strings.TrimSpace(l.City)) + "," + strings.ToLower(strings.TrimSpace(l.Country))
}

func (l Location) IsZero() bool {
	return strings.TrimSpace(l.City) == "" && strings.TrimSpace(l.Country) == ""
}

const TransactionCompleted = "completed"

type Transaction struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency,omitempty"`
	Status    string    `json:"status"`
	Location  Location  `json:"location"`
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Login struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Location  Location  `json:"location"`
}

// UserActivity is the append-only history snapshot used for one evaluation.
type UserActivity struct {
	UserID           string        `json:"user_id"`
	AccountCreatedAt time.Time     `json:"account_created_at"`
	Transactions     []Transaction `json:"transactions"`
	Logins           []Login       `json:"logins"`
}

type Trade struct {
	ID         string    `json:"id"`
	TraderID   string    `json:"trader_id"`
	Instrument string    `json:"instrument"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	PnL        float64   `json:"pnl"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

func (t Trade) IsLoss() bool {
	return !t.ClosedAt.IsZero() && t.PnL < 0
}

type TraderActivity struct {
	TraderID         string    `json:"trader_id"`
	AccountCreatedAt time.Time `json:"account_created_at"`
	Trades           []Trade   `json:"trades"`
}

type Alert struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	AlertType   string      `json:"alert_type"`
	Transaction Transaction `json:"transaction"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Baseline is a derived snapshot of a subject's normal behavior. It is a pure
// function of history plus a reference time and is never authoritative state.
type Baseline struct {
	AvgTransactionAmount  float64  `json:"avg_transaction_amount"`
	AvgTransactionsPerDay float64  `json:"avg_transactions_per_day"`
	TypicalHours          []int    `json:"typical_hours"`
	AllHoursTypical       bool     `json:"all_hours_typical"`
	CommonLocations       []string `json:"common_locations"`
	KnownDevices          []string `json:"known_devices"`
	DeviceConsistency     float64  `json:"device_consistency"`
	AccountAgeDays        int      `json:"account_age_days"`
	SampleCount           int      `json:"sample_count"`
}

func (b Baseline) IsTypicalHour(hour int) bool {
	if b.AllHoursTypical {
		return true
	}
	for _, h := range b.TypicalHours {
		if h == hour {
			return true
		}
	}
	return false
}

func (b Baseline) KnowsLocation(loc Location) bool {
	key := loc.Key()
	for _, known := range b.CommonLocations {
		if known == key {
			return true
		}
	}
	return false
}

func (b Baseline) KnowsDevice(deviceID string) bool {
	for _, known := range b.KnownDevices {
		if known == deviceID {
			return true
		}
	}
	return false
}

type DeviationAxis string

const (
	AxisAmount    DeviationAxis = "amount"
	AxisFrequency DeviationAxis = "frequency"
	AxisTemporal  DeviationAxis = "temporal"
	AxisLocation  DeviationAxis = "location"
	AxisDevice    DeviationAxis = "device"
)

// Deviation is one axis record: raw magnitude, a multiplier >= 1.0, and the
// baseline-vs-current context.
type Deviation struct {
	Axis          DeviationAxis `json:"axis"`
	Magnitude     float64       `json:"magnitude"`
	Multiplier    float64       `json:"multiplier"`
	BaselineValue string        `json:"baseline_value"`
	CurrentValue  string        `json:"current_value"`
	Triggered     bool          `json:"triggered"`
}

// DeviationSet is produced fresh per event and never mutated after creation.
type DeviationSet struct {
	Deviations     []Deviation `json:"deviations"`
	NewAccountFlag bool        `json:"new_account_flag"`
	VelocityFlag   bool        `json:"velocity_flag"`
}

// Multiplier is the product of all axis multipliers. It is deliberately not
// clamped here; clamping happens at classification so the raw value survives
// for audit.
func (s DeviationSet) Multiplier() float64 {
	product := 1.0
	for _, d := range s.Deviations {
		product *= d.Multiplier
	}
	return product
}

// TriggeredNames lists triggered axes in axis order, then the boolean flags.
func (s DeviationSet) TriggeredNames() []string {
	names := make([]string, 0, len(s.Deviations)+2)
	for _, d := range s.Deviations {
		if d.Triggered {
			names = append(names, string(d.Axis))
		}
	}
	if s.NewAccountFlag {
		names = append(names, "new_account")
	}
	if s.VelocityFlag {
		names = append(names, "velocity")
	}
	return names
}

const (
	FactorTradeFrequencySpike   = "trade_frequency_spike"
	FactorPositionSizeDeviation = "position_size_deviation"
	FactorLossClustering        = "loss_clustering"
	FactorUnusualHours          = "unusual_hours"
	FactorShortIntervals        = "short_intervals"
)

// FactorNames is the canonical order of the five pressure factors.
var FactorNames = []string{
	FactorTradeFrequencySpike,
	FactorPositionSizeDeviation,
	FactorLossClustering,
	FactorUnusualHours,
	FactorShortIntervals,
}

type PressureScore struct {
	Score   float64            `json:"score"`
	Level   PressureLevel      `json:"level"`
	Factors map[string]float64 `json:"factors"`
}

// ContributingFactors returns factor names with value above the contributing
// threshold, in canonical factor order.
func (p PressureScore) ContributingFactors(threshold float64) []string {
	out := make([]string, 0, len(FactorNames))
	for _, name := range FactorNames {
		if p.Factors[name] > threshold {
			out = append(out, name)
		}
	}
	return out
}

// SeverityJustification is the immutable audit artifact for one investigation.
type SeverityJustification struct {
	BaseScore           float64  `json:"base_score"`
	DeviationMultiplier float64  `json:"deviation_multiplier"`
	FinalScore          float64  `json:"final_score"`
	ThresholdT1         float64  `json:"threshold_t1"`
	ThresholdT2         float64  `json:"threshold_t2"`
	ThresholdT3         float64  `json:"threshold_t3"`
	TriggeredDeviations []string `json:"triggered_deviations"`
}

type TimelineEvent struct {
	Seq    int       `json:"seq"`
	Label  string    `json:"label"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// AuditRecord is the denormalized copy of the justification plus who/when.
type AuditRecord struct {
	Justification SeverityJustification `json:"justification"`
	EvaluatedBy   string                `json:"evaluated_by"`
	EvaluatedAt   time.Time             `json:"evaluated_at"`
}

type AuditEntry struct {
	ID              int64     `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	ActionType      string    `json:"action_type"`
	ActionDetails   string    `json:"action_details"`
	Actor           string    `json:"actor"`
	CreatedAt       time.Time `json:"created_at"`
}

// Investigation is the full assembled record for one evaluated fraud alert.
// Re-investigation produces a new record with a new id.
type Investigation struct {
	ID             string                `json:"id"`
	Alert          Alert                 `json:"alert"`
	Activity       UserActivity          `json:"activity"`
	Baseline       Baseline              `json:"baseline"`
	Deviations     DeviationSet          `json:"deviations"`
	Severity       SeverityLevel         `json:"severity"`
	Timeline       []TimelineEvent       `json:"timeline"`
	Narrative      string                `json:"narrative"`
	AllowedActions []string              `json:"allowed_actions"`
	Justification  SeverityJustification `json:"justification"`
	Audit          AuditRecord           `json:"audit"`
	CreatedAt      time.Time             `json:"created_at"`
}

type InvestigationFilter struct {
	UserID   string
	Severity *SeverityLevel
	Limit    int
}

type OHLC struct {
	Instrument string    `json:"instrument"`
	OpenTime   time.Time `json:"open_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

const (
	MovementSurge = "surge"
	MovementDrop  = "drop"
	MovementFlat  = "flat"
)

type MarketContext struct {
	Movement     string  `json:"movement"`
	MagnitudePct float64 `json:"magnitude_pct"`
	Candle       OHLC    `json:"candle"`
}

type PatternMatch struct {
	TradeID    string    `json:"trade_id"`
	ClosedAt   time.Time `json:"closed_at"`
	Similarity float64   `json:"similarity"`
}

// TradingInsight is the full assembled record for one scoring pass over a
// trader. Immutable once stored.
type TradingInsight struct {
	ID                 string         `json:"id"`
	TraderID           string         `json:"trader_id"`
	Instrument         string         `json:"instrument"`
	Market             MarketContext  `json:"market"`
	Baseline           Baseline       `json:"baseline"`
	Deviations         DeviationSet   `json:"deviations"`
	Pressure           PressureScore  `json:"pressure"`
	DeterministicScore float64        `json:"deterministic_score"`
	PatternMatches     []PatternMatch `json:"pattern_matches,omitempty"`
	AnomalyScore       float64        `json:"anomaly_score,omitempty"`
	Narrative          string         `json:"narrative,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

type InsightFilter struct {
	TraderID string
	Limit    int
}

// SortedFactorNames returns the keys of a factor map in canonical order first,
// then any extras alphabetically. Used wherever factor iteration must be
// reproducible.
func SortedFactorNames(factors map[string]float64) []string {
	out := make([]string, 0, len(factors))
	seen := make(map[string]struct{}, len(factors))
	for _, name := range FactorNames {
		if _, ok := factors[name]; ok {
			out = append(out, name)
			seen[name] = struct{}{}
		}
	}
	extras := make([]string, 0)
	for name := range factors {
		if _, ok := seen[name]; !ok {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	return append(out, extras...)
}
