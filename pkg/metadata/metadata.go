// Package metadata carries the immutable, externally computed analysis
// the driver consults but never recomputes: per-function AP-change
// classification and optional per-statement gas costs, built by
// AP-change and gas analysis passes that are out of scope for this
// driver.
package metadata

import "github.com/raymyers/sierra2casm/pkg/sierra"

// FunctionApChange records, per function name, whether its net AP change
// across a call is statically known.
type FunctionApChange struct {
	Known bool
	Delta int
}

// ApChangeInfo is the AP-change analysis result consumed by the driver
// and forwarded to libfunc emitters.
type ApChangeInfo struct {
	FunctionApChange map[string]FunctionApChange
}

// Metadata is the full externally computed analysis for one program.
type Metadata struct {
	ApChangeInfo ApChangeInfo
	// GasInfo maps a statement index to its gas cost, when gas usage
	// checking is enabled (Config.GasUsageCheck).
	GasInfo map[sierra.StatementIdx]int
}
