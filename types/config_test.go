package types

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig(1, 77, 12, 34)
	assert.Equal(t, uint32(1), config.Version)
	assert.Equal(t, uint32(77), config.Depth.MaxDepth)
	assert.Equal(t, uint64(12), config.Pricing.InkPrice)
	assert.Equal(t, uint64(34), config.Pricing.HostioInk)
}

func TestConfigForVersion(t *testing.T) {
	v0 := ConfigForVersion(0)
	assert.Equal(t, uint64(1), v0.Pricing.InkPrice)
	assert.Zero(t, v0.Pricing.HostioInk)
	assert.Zero(t, v0.FuncEntryInk())
	assert.Equal(t, uint64(1), v0.OpcodeInk())

	v1 := ConfigForVersion(1)
	assert.Equal(t, DefaultInkPrice, v1.Pricing.InkPrice)
	assert.Equal(t, DefaultHostioInk, v1.Pricing.HostioInk)
	assert.Equal(t, FuncEntryInk, v1.FuncEntryInk())
	assert.Equal(t, DefaultOpcodeInk, v1.OpcodeInk())
	assert.Equal(t, DefaultMaxDepth, v1.Depth.MaxDepth)
}

func TestGasInkConversion(t *testing.T) {
	prices := []uint64{1, 3, 7, 10_000, math.MaxUint32}
	gases := []uint64{0, 1, 2, 999, 1_000_000, math.MaxUint64 / 2, math.MaxUint64}

	for _, price := range prices {
		pricing := PricingParams{InkPrice: price}
		prevInk := uint64(0)
		for _, gas := range gases {
			ink := pricing.GasToInk(gas)
			// conversion never creates gas
			assert.LessOrEqual(t, pricing.InkToGas(ink), gas, "price=%d gas=%d", price, gas)
			// more gas never buys less ink
			assert.GreaterOrEqual(t, ink, prevInk, "price=%d gas=%d", price, gas)
			prevInk = ink
		}
	}
}

func TestGasInkExactBelowSaturation(t *testing.T) {
	pricing := PricingParams{InkPrice: 10_000}
	for _, gas := range []uint64{0, 1, 12345, 1 << 40} {
		require.Equal(t, gas, pricing.InkToGas(pricing.GasToInk(gas)))
	}
}

func TestGasToInkSaturates(t *testing.T) {
	pricing := PricingParams{InkPrice: 10}
	assert.Equal(t, uint64(math.MaxUint64), pricing.GasToInk(math.MaxUint64))
}

func TestZeroInkPrice(t *testing.T) {
	pricing := PricingParams{}
	assert.Zero(t, pricing.GasToInk(500))
	assert.Zero(t, pricing.InkToGas(500))
}

func TestOutcomeIntoData(t *testing.T) {
	status, data := SuccessOutcome([]byte("ok")).IntoData()
	assert.Equal(t, Success, status)
	assert.Equal(t, []byte("ok"), data)

	status, data = FailureOutcome(errors.New("boom")).IntoData()
	assert.Equal(t, Failure, status)
	assert.Equal(t, []byte("boom"), data)

	status, data = OutOfStackOutcome().IntoData()
	assert.Equal(t, OutOfStack, status)
	assert.NotNil(t, data)
	assert.Empty(t, data)
}

func TestOutcomeKindValid(t *testing.T) {
	for k := Success; k <= OutOfStack; k++ {
		assert.True(t, k.Valid())
	}
	assert.False(t, OutcomeKind(5).Valid())
	assert.Equal(t, "unknown(9)", OutcomeKind(9).String())
	assert.Equal(t, "out of ink", OutOfInk.String())
}

func TestAddressFromString(t *testing.T) {
	addr, err := AddressFromString("0x00000000000000000000000000000000000000ff")
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), addr[19])
	assert.Equal(t, "0x00000000000000000000000000000000000000ff", addr.String())

	_, err = AddressFromString("0x1234")
	assert.Error(t, err)

	word, err := Bytes32FromString("0x01")
	require.NoError(t, err)
	assert.Equal(t, byte(1), word[31])
	assert.False(t, word.IsZero())
}
