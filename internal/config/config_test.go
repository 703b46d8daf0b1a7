package config

import (
	"strings"
	"testing"

	"riskwatch/internal/domain"
)

func TestDefaultThresholdsValidate(t *testing.T) {
	if err := loadThresholds().Validate(); err != nil {
		t.Fatalf("expected default thresholds to validate, got %v", err)
	}
}

func TestValidateRejectsUnorderedSeverityThresholds(t *testing.T) {
	th := loadThresholds()
	th.SeverityT2 = th.SeverityT1
	err := th.Validate()
	if err == nil || !strings.Contains(err.Error(), "strictly increasing") {
		t.Fatalf("expected ordering error, got %v", err)
	}
}

func TestValidateRejectsUnorderedPressureThresholds(t *testing.T) {
	th := loadThresholds()
	th.PressureP1 = th.PressureP2 + 1
	if err := th.Validate(); err == nil {
		t.Fatal("expected pressure ordering error")
	}
}

func TestValidateRejectsSubUnitMultipliers(t *testing.T) {
	th := loadThresholds()
	th.AmountMultCeiling = 0.5
	if err := th.Validate(); err == nil {
		t.Fatal("expected ceiling error")
	}

	th = loadThresholds()
	th.DeviceBonus = 0.9
	if err := th.Validate(); err == nil {
		t.Fatal("expected bonus error")
	}
}

func TestValidateRejectsBadFactorWeights(t *testing.T) {
	th := loadThresholds()
	th.FactorWeights = map[string]float64{
		domain.FactorTradeFrequencySpike:   0.5,
		domain.FactorPositionSizeDeviation: 0.5,
		domain.FactorLossClustering:        0.5,
		domain.FactorUnusualHours:          0.5,
		domain.FactorShortIntervals:        0.5,
	}
	err := th.Validate()
	if err == nil || !strings.Contains(err.Error(), "sum") {
		t.Fatalf("expected weight sum error, got %v", err)
	}

	th = loadThresholds()
	delete(th.FactorWeights, domain.FactorShortIntervals)
	if err := th.Validate(); err == nil {
		t.Fatal("expected missing weight error")
	}
}

func TestValidateRejectsEmptyActionList(t *testing.T) {
	th := loadThresholds()
	th.AllowedActions = map[domain.SeverityLevel][]string{
		domain.SeverityLow:    {"monitor"},
		domain.SeverityMedium: {"monitor"},
		domain.SeverityHigh:   {"monitor"},
		// CRITICAL left unconfigured
	}
	if err := th.Validate(); err == nil {
		t.Fatal("expected empty action list error")
	}
}

func TestBaseScoreFor(t *testing.T) {
	th := loadThresholds()
	if got := th.BaseScoreFor("large_transaction"); got != 40 {
		t.Fatalf("expected 40 for large_transaction, got %.1f", got)
	}
	if got := th.BaseScoreFor("  Account_Takeover "); got != 55 {
		t.Fatalf("expected case-insensitive lookup, got %.1f", got)
	}
	if got := th.BaseScoreFor("never_seen"); got != th.DefaultBaseScore {
		t.Fatalf("expected default base score for unknown type, got %.1f", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("RISKWATCH_TEST_INT", "7")
	if got := envInt("RISKWATCH_TEST_INT", 3); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	t.Setenv("RISKWATCH_TEST_INT", "not-a-number")
	if got := envInt("RISKWATCH_TEST_INT", 3); got != 3 {
		t.Fatalf("expected fallback 3, got %d", got)
	}

	t.Setenv("RISKWATCH_TEST_FLOAT", "2.5")
	if got := envFloat("RISKWATCH_TEST_FLOAT", 1); got != 2.5 {
		t.Fatalf("expected 2.5, got %.2f", got)
	}
	t.Setenv("RISKWATCH_TEST_FLOAT", "-4")
	if got := envFloat("RISKWATCH_TEST_FLOAT", 1); got != 1 {
		t.Fatalf("expected non-positive value ignored, got %.2f", got)
	}
}
