package scan

import (
	"context"

	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

// PolicySource supplies the policy in force for a site.
type PolicySource interface {
	PolicyConfig(ctx context.Context, site string) (policy.Config, error)
	// Subscribe calls fn with the resolved config whenever it changes. The
	// returned function unsubscribes.
	Subscribe(site string, fn func(policy.Config)) (cancel func())
}

// StatsRecorder receives one call per applied verdict.
type StatsRecorder interface {
	RecordOutcome(ctx context.Context, site string, blocked bool, category string, confidence float64) error
}

// StaticPolicy is a PolicySource that always returns the same config.
type StaticPolicy policy.Config

func (s StaticPolicy) PolicyConfig(context.Context, string) (policy.Config, error) {
	return policy.Config(s).Clone(), nil
}

func (StaticPolicy) Subscribe(string, func(policy.Config)) func() {
	return func() {}
}
