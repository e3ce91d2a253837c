/*

This file contains the default parameters of the rebalancer.

The risk limits favour diversification over concentration: no strategy receives more than 40% of a
cycle's capital and 2% of every cycle is carved out as fees. A risk profile file loaded with
LoadRiskProfile replaces them per deployment.

*/

package config

import (
	"time"

	"github.com/elys-network/rebalancer/internal/types"
)

// Loop and lock defaults
const (
	DefaultLoopInterval = 10 * time.Minute
	DefaultLockTTL      = 30 * time.Second
)

// DefaultRiskLimits is used for portfolios without stored limits.
var DefaultRiskLimits = types.DefaultRiskLimits()
