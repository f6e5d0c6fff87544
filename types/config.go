package types

import (
	"fmt"
	"math"
)

const (
	// DefaultMaxDepth bounds the number of nested guest function frames.
	DefaultMaxDepth uint32 = 1024

	// DefaultInkPrice is the number of ink units bought by one unit of gas
	// for programs compiled at version 1 or later.
	DefaultInkPrice uint64 = 10_000

	// DefaultHostioInk is the flat ink cost of every hostio call at version 1.
	DefaultHostioInk uint64 = 8_400

	// FuncEntryInk is charged on entry to every guest function at version 1.
	FuncEntryInk uint64 = 2_000

	// DefaultOpcodeInk is the price of one instruction executed inside a
	// loop iteration at version 1.
	DefaultOpcodeInk uint64 = 100

	// MaxSupportedVersion is the newest program version the engine accepts.
	MaxSupportedVersion uint32 = 1
)

// PricingParams describes the linear price of ink and of hostio calls.
type PricingParams struct {
	// InkPrice is the amount of ink one unit of gas buys.
	InkPrice uint64 `json:"ink_price" toml:"ink_price"`
	// HostioInk is the flat ink cost of a single hostio call.
	HostioInk uint64 `json:"hostio_ink" toml:"hostio_ink"`
}

// DepthParams limits the guest call stack.
type DepthParams struct {
	MaxDepth uint32 `json:"max_depth" toml:"max_depth"`
}

// StylusConfig is the immutable configuration a program is compiled and
// executed under.
type StylusConfig struct {
	Version uint32        `json:"version" toml:"version"`
	Depth   DepthParams   `json:"depth" toml:"depth"`
	Pricing PricingParams `json:"pricing" toml:"pricing"`
}

// ConfigForVersion returns the default configuration of a program version.
// Unsupported versions still yield a config; the engine rejects them.
func ConfigForVersion(version uint32) StylusConfig {
	config := StylusConfig{
		Version: version,
		Depth:   DepthParams{MaxDepth: DefaultMaxDepth},
		Pricing: PricingParams{InkPrice: 1},
	}
	if version >= 1 {
		config.Pricing.InkPrice = DefaultInkPrice
		config.Pricing.HostioInk = DefaultHostioInk
	}
	return config
}

// NewConfig assembles a configuration from its component parts. No
// validation beyond type width is performed.
func NewConfig(version, maxDepth uint32, inkPrice, hostioInk uint64) StylusConfig {
	config := ConfigForVersion(version)
	config.Depth.MaxDepth = maxDepth
	config.Pricing.InkPrice = inkPrice
	config.Pricing.HostioInk = hostioInk
	return config
}

// FuncEntryInk returns the ink charged on each guest function entry.
func (c StylusConfig) FuncEntryInk() uint64 {
	if c.Version == 0 {
		return 0
	}
	return FuncEntryInk
}

// OpcodeInk returns the price of one instruction executed inside a loop
// iteration. Version 0 still pays the minimum so that every loop ends.
func (c StylusConfig) OpcodeInk() uint64 {
	if c.Version == 0 {
		return 1
	}
	return DefaultOpcodeInk
}

func (c StylusConfig) String() string {
	return fmt.Sprintf("version=%d max_depth=%d ink_price=%d hostio_ink=%d",
		c.Version, c.Depth.MaxDepth, c.Pricing.InkPrice, c.Pricing.HostioInk)
}

// GasToInk converts gas into ink, saturating at the maximum ink value.
func (p PricingParams) GasToInk(gas uint64) uint64 {
	if p.InkPrice != 0 && gas > math.MaxUint64/p.InkPrice {
		return math.MaxUint64
	}
	return gas * p.InkPrice
}

// InkToGas converts ink back into gas, rounding down so that conversion
// never creates gas. A zero price converts everything to zero.
func (p PricingParams) InkToGas(ink uint64) uint64 {
	if p.InkPrice == 0 {
		return 0
	}
	return ink / p.InkPrice
}
