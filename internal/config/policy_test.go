package config

import (
	"testing"

	"github.com/netfence/wifisplit/internal/errors"
)

func TestParsePolicy_Valid(t *testing.T) {
	cfg := &Config{Policy: &PolicyConfig{
		Included: []string{"10.0.0.0/8", "192.168.0.0/16"},
		Excluded: []string{"10.52.0.0/16"},
	}}

	policy, err := cfg.ParsePolicy()
	if err != nil {
		t.Fatalf("ParsePolicy failed: %v", err)
	}
	if len(policy.Included) != 2 {
		t.Errorf("Included = %v, want 2 entries", policy.Included)
	}
	if len(policy.Excluded) != 1 {
		t.Errorf("Excluded = %v, want 1 entry", policy.Excluded)
	}
}

func TestParsePolicy_SkipsMalformedEntries(t *testing.T) {
	cfg := &Config{Policy: &PolicyConfig{
		Included: []string{"10.0.0.0/8", "bogus", "10.0.0.0/99"},
		Excluded: []string{"not-a-cidr", "10.52.0.0/16"},
	}}

	policy, err := cfg.ParsePolicy()
	if err != nil {
		t.Fatalf("ParsePolicy failed: %v", err)
	}
	if len(policy.Included) != 1 || policy.Included[0].String() != "10.0.0.0/8" {
		t.Errorf("Included = %v, want only 10.0.0.0/8", policy.Included)
	}
	if len(policy.Excluded) != 1 || policy.Excluded[0].String() != "10.52.0.0/16" {
		t.Errorf("Excluded = %v, want only 10.52.0.0/16", policy.Excluded)
	}
}

func TestParsePolicy_EmptyIncludedIsFatal(t *testing.T) {
	cfg := &Config{Policy: &PolicyConfig{
		Included: []string{"bogus", "also-bogus"},
	}}

	_, err := cfg.ParsePolicy()
	if err == nil {
		t.Fatal("Expected CONFIG_INVALID error for empty included set")
	}
	if !errors.IsCode(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("Expected CONFIG_INVALID, got %v", err)
	}
}

func TestParsePolicy_NoPolicySection(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.ParsePolicy(); !errors.IsCode(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("Expected CONFIG_INVALID, got %v", err)
	}
}
