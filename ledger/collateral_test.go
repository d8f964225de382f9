package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/connext/indra-sub007/common"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCollateralConfig() common.CollateralConfig {
	return common.CollateralConfig{
		MinCollateral:   dec("10"),
		MaxCollateral:   dec("169"),
		PerTipperAmount: dec("2"),
		MaxMultiple:     dec("5"),
		RecentWindow:    72 * time.Hour,
	}
}

func TestComputeCollateralAmountNoTippers(t *testing.T) {
	cc := testCollateralConfig()

	got := computeCollateralAmount(cc, 0, dec("0"), nil)
	assert.True(t, got.Equal(dec("10")))

	// already at the floor
	got = computeCollateralAmount(cc, 0, dec("10"), nil)
	assert.True(t, got.IsZero())

	// above the floor is never withdrawn
	got = computeCollateralAmount(cc, 0, dec("50"), nil)
	assert.True(t, got.IsZero())
}

func TestComputeCollateralAmountScalesWithTippers(t *testing.T) {
	cc := testCollateralConfig()

	// 3 tippers x 2 per tipper x multiple 5 = 30
	got := computeCollateralAmount(cc, 3, dec("0"), nil)
	assert.True(t, got.Equal(dec("30")))

	got = computeCollateralAmount(cc, 3, dec("12"), nil)
	assert.True(t, got.Equal(dec("18")))

	// target is capped at the channel maximum
	got = computeCollateralAmount(cc, 1000, dec("0"), nil)
	assert.True(t, got.Equal(dec("169")))
}

func TestComputeCollateralAmountManualTarget(t *testing.T) {
	cc := testCollateralConfig()

	target := dec("40")
	got := computeCollateralAmount(cc, 3, dec("15"), &target)
	assert.True(t, got.Equal(dec("25")))

	// below the current balance floors at zero, no withdrawal
	target = dec("5")
	got = computeCollateralAmount(cc, 3, dec("15"), &target)
	assert.True(t, got.IsZero())

	// never exceeds the channel maximum
	target = dec("1000")
	got = computeCollateralAmount(cc, 3, dec("15"), &target)
	assert.True(t, got.Equal(dec("154")))
}

func TestMatchCollateral(t *testing.T) {
	assert.True(t, matchCollateral(dec("50"), dec("100"), dec("169")).Equal(dec("50")))
	assert.True(t, matchCollateral(dec("100"), dec("100"), dec("169")).Equal(dec("69")))
	assert.True(t, matchCollateral(dec("10"), dec("169"), dec("169")).IsZero())
	assert.True(t, matchCollateral(dec("10"), dec("200"), dec("169")).IsZero())
}
