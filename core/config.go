package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidationFailurePolicy decides whether a validation-stage step failure
// blocks the workflow or records a warning and continues. The policy is
// external input, never hard-coded in the state machine.
type ValidationFailurePolicy string

const (
	ValidationFailureBlock    ValidationFailurePolicy = "block"
	ValidationFailureContinue ValidationFailurePolicy = "continue"
)

type WorkflowConfig struct {
	DefaultMaxStepAttempts int                     `koanf:"default_max_step_attempts" mapstructure:"default_max_step_attempts"`
	ValidationPolicy       ValidationFailurePolicy `koanf:"validation_policy" mapstructure:"validation_policy"`
	RetryBaseDelay         time.Duration           `koanf:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryMaxDelay          time.Duration           `koanf:"retry_max_delay" mapstructure:"retry_max_delay"`
}

type DeliveryConfig struct {
	DispatchBatchSize int           `koanf:"dispatch_batch_size" mapstructure:"dispatch_batch_size"`
	DefaultTimeout    time.Duration `koanf:"default_timeout" mapstructure:"default_timeout"`
	SignatureHeader   string        `koanf:"signature_header" mapstructure:"signature_header"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Workflow    WorkflowConfig `koanf:"workflow" mapstructure:"workflow"`
	Delivery    DeliveryConfig `koanf:"delivery" mapstructure:"delivery"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "reportflow",
		Workflow: WorkflowConfig{
			DefaultMaxStepAttempts: DefaultStepMaxAttempts,
			ValidationPolicy:       ValidationFailureBlock,
			RetryBaseDelay:         5 * time.Second,
			RetryMaxDelay:          5 * time.Minute,
		},
		Delivery: DeliveryConfig{
			DispatchBatchSize: 50,
			DefaultTimeout:    30 * time.Second,
			SignatureHeader:   "X-Reportflow-Signature",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Workflow.DefaultMaxStepAttempts < 1 {
		return fmt.Errorf("core: workflow.default_max_step_attempts must be at least 1")
	}
	switch c.Workflow.ValidationPolicy {
	case ValidationFailureBlock, ValidationFailureContinue:
	default:
		return fmt.Errorf("core: workflow.validation_policy must be %q or %q", ValidationFailureBlock, ValidationFailureContinue)
	}
	if c.Workflow.RetryBaseDelay <= 0 || c.Workflow.RetryMaxDelay < c.Workflow.RetryBaseDelay {
		return fmt.Errorf("core: workflow retry delays are invalid")
	}
	if c.Delivery.DispatchBatchSize <= 0 {
		return fmt.Errorf("core: delivery.dispatch_batch_size must be positive")
	}
	if strings.TrimSpace(c.Delivery.SignatureHeader) == "" {
		return fmt.Errorf("core: delivery.signature_header is required")
	}
	return nil
}
