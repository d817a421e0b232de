package matcher

import (
	"github.com/shopspring/decimal"

	"github.com/naseerahmed599/enprom-reconciler/pkg/errors"
)

// Config controls amount comparison during matching
type Config struct {
	// Tolerance is the maximum absolute difference under which two
	// amounts are considered equal. Applied to both the per-row and the
	// summed-total comparison.
	Tolerance decimal.Decimal
}

// DefaultConfig returns the standard matching configuration
func DefaultConfig() *Config {
	return &Config{
		Tolerance: decimal.NewFromFloat(0.01),
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Tolerance.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"tolerance", c.Tolerance.String(), nil)
	}
	return nil
}
