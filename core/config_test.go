package core

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Workflow.DefaultMaxStepAttempts != DefaultStepMaxAttempts {
		t.Fatalf("unexpected default attempt budget: %d", cfg.Workflow.DefaultMaxStepAttempts)
	}
	if cfg.Workflow.ValidationPolicy != ValidationFailureBlock {
		t.Fatalf("validation failures must block by default, got %s", cfg.Workflow.ValidationPolicy)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"blank service name", func(c *Config) { c.ServiceName = "  " }},
		{"zero attempts", func(c *Config) { c.Workflow.DefaultMaxStepAttempts = 0 }},
		{"unknown validation policy", func(c *Config) { c.Workflow.ValidationPolicy = "maybe" }},
		{"zero base delay", func(c *Config) { c.Workflow.RetryBaseDelay = 0 }},
		{"max delay below base", func(c *Config) {
			c.Workflow.RetryBaseDelay = time.Minute
			c.Workflow.RetryMaxDelay = time.Second
		}},
		{"zero batch size", func(c *Config) { c.Delivery.DispatchBatchSize = 0 }},
		{"blank signature header", func(c *Config) { c.Delivery.SignatureHeader = "" }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
