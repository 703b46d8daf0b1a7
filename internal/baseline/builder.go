package baseline

import (
	"math"
	"sort"
	"time"

	"riskwatch/internal/domain"
)

type Config struct {
	TypicalHourMass   float64
	MinSamples        int
	AccountAgeCapDays int
}

func DefaultConfig() Config {
	return Config{
		TypicalHourMass:   0.8,
		MinSamples:        10,
		AccountAgeCapDays: 365,
	}
}

func (c Config) normalized() Config {
	if c.TypicalHourMass <= 0 || c.TypicalHourMass > 1 {
		c.TypicalHourMass = 0.8
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.AccountAgeCapDays <= 0 {
		c.AccountAgeCapDays = 365
	}
	return c
}

// Build derives a baseline from a user's history. Pure: identical history and
// now always yield an identical baseline. Callers own any caching policy.
func Build(activity domain.UserActivity, now time.Time, cfg Config) (domain.Baseline, error) {
	cfg = cfg.normalized()

	completed := make([]domain.Transaction, 0, len(activity.Transactions))
	for _, tx := range activity.Transactions {
		if tx.Status == domain.TransactionCompleted {
			completed = append(completed, tx)
		}
	}
	if len(completed) == 0 {
		return domain.Baseline{}, domain.ErrInsufficientHistory
	}

	var amountSum float64
	hours := make([]time.Time, 0, len(completed))
	earliest := completed[0].Timestamp
	for _, tx := range completed {
		amountSum += tx.Amount
		hours = append(hours, tx.Timestamp)
		if tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
	}

	b := domain.Baseline{
		AvgTransactionAmount:  amountSum / float64(len(completed)),
		AvgTransactionsPerDay: perDayRate(len(completed), earliest, now),
		SampleCount:           len(completed),
		AccountAgeDays:        ageDays(activity.AccountCreatedAt, now, cfg.AccountAgeCapDays),
	}
	b.TypicalHours, b.AllHoursTypical = typicalHours(hours, cfg)
	b.CommonLocations = commonLocations(activity)
	b.KnownDevices, b.DeviceConsistency = deviceProfile(activity.Logins)

	return b, nil
}

// BuildFromTrades derives a trading baseline, treating trade sizes as amounts
// and open times as the temporal samples.
func BuildFromTrades(activity domain.TraderActivity, now time.Time, cfg Config) (domain.Baseline, error) {
	cfg = cfg.normalized()

	if len(activity.Trades) == 0 {
		return domain.Baseline{}, domain.ErrInsufficientHistory
	}

	var sizeSum float64
	hours := make([]time.Time, 0, len(activity.Trades))
	earliest := activity.Trades[0].OpenedAt
	for _, tr := range activity.Trades {
		sizeSum += tr.Size
		hours = append(hours, tr.OpenedAt)
		if tr.OpenedAt.Before(earliest) {
			earliest = tr.OpenedAt
		}
	}

	b := domain.Baseline{
		AvgTransactionAmount:  sizeSum / float64(len(activity.Trades)),
		AvgTransactionsPerDay: perDayRate(len(activity.Trades), earliest, now),
		SampleCount:           len(activity.Trades),
		AccountAgeDays:        ageDays(activity.AccountCreatedAt, now, cfg.AccountAgeCapDays),
		DeviceConsistency:     1.0,
	}
	b.TypicalHours, b.AllHoursTypical = typicalHours(hours, cfg)

	return b, nil
}

// Default returns the conservative synthetic baseline substituted when history
// is absent. All hours typical, no known locations or devices, zero maturity.
func Default(avgAmount float64) domain.Baseline {
	if avgAmount <= 0 {
		avgAmount = 100
	}
	return domain.Baseline{
		AvgTransactionAmount:  avgAmount,
		AvgTransactionsPerDay: 1,
		AllHoursTypical:       true,
		DeviceConsistency:     1.0,
	}
}

func perDayRate(count int, earliest, now time.Time) float64 {
	days := int(now.Sub(earliest).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return float64(count) / float64(days)
}

func ageDays(createdAt, now time.Time, cap int) int {
	if createdAt.IsZero() || createdAt.After(now) {
		return 0
	}
	days := int(now.Sub(createdAt).Hours() / 24)
	if days > cap {
		return cap
	}
	return days
}

// typicalHours returns the smallest set of hours-of-day covering at least the
// configured cumulative frequency mass. With fewer than MinSamples events all
// hours are typical, so no temporal deviation can be raised from thin history.
func typicalHours(samples []time.Time, cfg Config) ([]int, bool) {
	if len(samples) < cfg.MinSamples {
		return nil, true
	}

	counts := make(map[int]int, 24)
	for _, ts := range samples {
		counts[ts.UTC().Hour()]++
	}

	type hourCount struct {
		hour  int
		count int
	}
	ordered := make([]hourCount, 0, len(counts))
	for hour, count := range counts {
		ordered = append(ordered, hourCount{hour: hour, count: count})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].count != ordered[j].count {
			return ordered[i].count > ordered[j].count
		}
		return ordered[i].hour < ordered[j].hour
	})

	target := int(math.Ceil(cfg.TypicalHourMass * float64(len(samples))))
	cumulative := 0
	picked := make([]int, 0, len(ordered))
	for _, hc := range ordered {
		picked = append(picked, hc.hour)
		cumulative += hc.count
		if cumulative >= target {
			break
		}
	}
	sort.Ints(picked)
	return picked, false
}

func commonLocations(activity domain.UserActivity) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	add := func(loc domain.Location) {
		if loc.IsZero() {
			return
		}
		key := loc.Key()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, tx := range activity.Transactions {
		add(tx.Location)
	}
	for _, login := range activity.Logins {
		add(login.Location)
	}
	sort.Strings(out)
	return out
}

func deviceProfile(logins []domain.Login) ([]string, float64) {
	if len(logins) == 0 {
		return nil, 1.0
	}

	seen := make(map[string]struct{})
	devices := make([]string, 0)
	withDevice := 0
	repeats := 0
	for _, login := range logins {
		if login.DeviceID == "" {
			continue
		}
		withDevice++
		if _, ok := seen[login.DeviceID]; ok {
			repeats++
			continue
		}
		seen[login.DeviceID] = struct{}{}
		devices = append(devices, login.DeviceID)
	}
	sort.Strings(devices)

	if len(devices) <= 1 {
		return devices, 1.0
	}
	return devices, float64(repeats) / float64(withDevice)
}
