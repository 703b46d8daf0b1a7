package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"riskwatch/internal/domain"
)

type Config struct {
	DatabaseURL      string
	RedisURL         string
	TelegramBotToken string

	OpenAIAPIKey         string
	OpenAIModel          string
	NarrativeMode        string
	NarrativeTimeoutSecs int

	ScanPollSecs         int
	BaselineCacheTTLSecs int

	Thresholds Thresholds
}

// Thresholds is the named threshold table loaded once at process start. It
// carries every tunable the scoring path reads, so the same detector serves
// different deployments.
type Thresholds struct {
	BaseScores       map[string]float64
	DefaultBaseScore float64

	AmountEpsilon      float64
	AmountMultCeiling  float64
	FreqMultCeiling    float64
	TemporalBonus      float64
	LocationBonus      float64
	DeviceBonus        float64
	VelocityAxisCount  int
	NewAccountDays     int
	AccountAgeCapDays  int
	TypicalHourMass    float64
	MinHistorySamples  int
	DefaultAvgAmount   float64
	FrequencyWindowHrs int

	SeverityT1 float64
	SeverityT2 float64
	SeverityT3 float64
	PressureP1 float64
	PressureP2 float64

	FactorWeights        map[string]float64
	FactorWeightTarget   float64
	ContributingFactor   float64
	ShortIntervalMinutes int

	PatternMinSimilarity float64
	PatternMaxMatches    int
	PatternWeights       [4]float64

	AllowedActions map[domain.SeverityLevel][]string
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, alert dispatch disabled")
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.NarrativeMode = strings.ToLower(strings.TrimSpace(os.Getenv("NARRATIVE_MODE")))
	if cfg.NarrativeMode == "" {
		if cfg.OpenAIAPIKey != "" {
			cfg.NarrativeMode = "openai"
		} else {
			cfg.NarrativeMode = "template"
		}
	}
	if cfg.NarrativeMode != "openai" && cfg.NarrativeMode != "template" {
		log.Printf("Warning: unsupported NARRATIVE_MODE=%q, defaulting to template", cfg.NarrativeMode)
		cfg.NarrativeMode = "template"
	}
	if cfg.NarrativeMode == "openai" && cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set, falling back to template narratives")
		cfg.NarrativeMode = "template"
	}

	cfg.NarrativeTimeoutSecs = envInt("NARRATIVE_TIMEOUT_SECS", 5)
	cfg.ScanPollSecs = envInt("SCAN_POLL_SECS", 300)
	cfg.BaselineCacheTTLSecs = envInt("BASELINE_CACHE_TTL_SECS", 300)

	cfg.Thresholds = loadThresholds()

	return cfg
}

func loadThresholds() Thresholds {
	t := Thresholds{
		BaseScores: map[string]float64{
			"large_transaction": 40,
			"velocity":          45,
			"account_takeover":  55,
			"new_device":        35,
		},
		DefaultBaseScore: envFloat("BASE_SCORE", 40),

		AmountEpsilon:      0.01,
		AmountMultCeiling:  envFloat("AMOUNT_MULT_CEILING", 5.0),
		FreqMultCeiling:    envFloat("FREQ_MULT_CEILING", 4.0),
		TemporalBonus:      envFloat("TEMPORAL_BONUS", 1.5),
		LocationBonus:      envFloat("LOCATION_BONUS", 1.4),
		DeviceBonus:        envFloat("DEVICE_BONUS", 1.3),
		VelocityAxisCount:  2,
		NewAccountDays:     envInt("NEW_ACCOUNT_DAYS", 30),
		AccountAgeCapDays:  envInt("ACCOUNT_AGE_CAP_DAYS", 365),
		TypicalHourMass:    0.8,
		MinHistorySamples:  envInt("MIN_HISTORY_SAMPLES", 10),
		DefaultAvgAmount:   envFloat("DEFAULT_AVG_AMOUNT", 100),
		FrequencyWindowHrs: 24,

		SeverityT1: envFloat("SEVERITY_T1", 40),
		SeverityT2: envFloat("SEVERITY_T2", 60),
		SeverityT3: envFloat("SEVERITY_T3", 80),
		PressureP1: envFloat("PRESSURE_P1", 30),
		PressureP2: envFloat("PRESSURE_P2", 60),

		FactorWeights: map[string]float64{
			domain.FactorTradeFrequencySpike:   envFloat("FACTOR_WEIGHT_TRADE_FREQUENCY_SPIKE", 0.25),
			domain.FactorPositionSizeDeviation: envFloat("FACTOR_WEIGHT_POSITION_SIZE_DEVIATION", 0.25),
			domain.FactorLossClustering:        envFloat("FACTOR_WEIGHT_LOSS_CLUSTERING", 0.25),
			domain.FactorUnusualHours:          envFloat("FACTOR_WEIGHT_UNUSUAL_HOURS", 0.10),
			domain.FactorShortIntervals:        envFloat("FACTOR_WEIGHT_SHORT_INTERVALS", 0.15),
		},
		FactorWeightTarget:   envFloat("FACTOR_WEIGHT_TARGET", 1.0),
		ContributingFactor:   0.3,
		ShortIntervalMinutes: envInt("SHORT_INTERVAL_MINUTES", 5),

		PatternMinSimilarity: envFloat("PATTERN_MIN_SIMILARITY", 0.7),
		PatternMaxMatches:    envInt("PATTERN_MAX_MATCHES", 5),
		PatternWeights:       [4]float64{0.3, 0.3, 0.2, 0.2},

		AllowedActions: map[domain.SeverityLevel][]string{
			domain.SeverityLow:      {"monitor"},
			domain.SeverityMedium:   {"monitor", "request_verification"},
			domain.SeverityHigh:     {"monitor", "request_verification", "limit_account", "escalate"},
			domain.SeverityCritical: {"freeze_account", "escalate", "notify_compliance"},
		},
	}
	return t
}

// Validate reports the first structural problem with the threshold table.
// Callers treat any error as fatal at process start.
func (t Thresholds) Validate() error {
	if !(t.SeverityT1 < t.SeverityT2 && t.SeverityT2 < t.SeverityT3) {
		return fmt.Errorf("severity thresholds must be strictly increasing: T1=%.2f T2=%.2f T3=%.2f", t.SeverityT1, t.SeverityT2, t.SeverityT3)
	}
	if !(t.PressureP1 < t.PressureP2) {
		return fmt.Errorf("pressure thresholds must be strictly increasing: P1=%.2f P2=%.2f", t.PressureP1, t.PressureP2)
	}
	if t.AmountMultCeiling < 1 || t.FreqMultCeiling < 1 {
		return fmt.Errorf("multiplier ceilings must be >= 1")
	}
	if t.TemporalBonus < 1 || t.LocationBonus < 1 || t.DeviceBonus < 1 {
		return fmt.Errorf("bonus multipliers must be >= 1")
	}
	if t.DefaultBaseScore <= 0 {
		return fmt.Errorf("base score must be positive")
	}
	if len(t.FactorWeights) != len(domain.FactorNames) {
		return fmt.Errorf("expected %d factor weights, got %d", len(domain.FactorNames), len(t.FactorWeights))
	}
	sum := 0.0
	for _, name := range domain.FactorNames {
		w, ok := t.FactorWeights[name]
		if !ok {
			return fmt.Errorf("missing factor weight: %s", name)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("factor weight %s out of [0,1]: %.4f", name, w)
		}
		sum += w
	}
	if math.Abs(sum-t.FactorWeightTarget) > 1e-6 {
		return fmt.Errorf("factor weights sum to %.4f, expected %.4f", sum, t.FactorWeightTarget)
	}
	if t.PatternMinSimilarity < 0 || t.PatternMinSimilarity > 1 {
		return fmt.Errorf("pattern similarity threshold out of [0,1]")
	}
	if t.PatternMaxMatches <= 0 {
		return fmt.Errorf("pattern max matches must be positive")
	}
	for _, level := range []domain.SeverityLevel{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		if len(t.AllowedActions[level]) == 0 {
			return fmt.Errorf("no allowed actions configured for severity %s", level)
		}
	}
	return nil
}

// BaseScoreFor returns the per-alert-type base score, or the default when the
// type is unknown.
func (t Thresholds) BaseScoreFor(alertType string) float64 {
	if score, ok := t.BaseScores[strings.ToLower(strings.TrimSpace(alertType))]; ok {
		return score
	}
	return t.DefaultBaseScore
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
