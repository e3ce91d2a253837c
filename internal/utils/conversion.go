/*
This file contains common utility functions for converting between on-ledger integer amounts and
the human-readable decimals reported by the API and the logs.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of decimals of a base unit: 1_000_000_000 base units are 1 unit.
const AmountDecimals = int32(9)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrConversionFailed = errors.New("conversion failed")
)

func checkPrecision(precision int32) error {
	if precision < 0 || precision > 18 {
		return fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	return nil
}

// BaseUnitsToDecimal renders an integer amount with the given number of decimals.
func BaseUnitsToDecimal(amount uint64, precision int32) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-precision)
}

// SDKIntToDecimal converts an SDK Int to a decimal with the given number of decimals.
func SDKIntToDecimal(amount sdkmath.Int, precision int32) (decimal.Decimal, error) {
	if err := checkPrecision(precision); err != nil {
		return decimal.Zero, err
	}
	if amount.IsNil() {
		return decimal.Zero, ErrAmountNil
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrAmountNegative
	}
	return decimal.NewFromBigInt(amount.BigInt(), -precision), nil
}

// DecimalToBaseUnits converts a human amount back to base units, truncating extra digits.
func DecimalToBaseUnits(amount decimal.Decimal, precision int32) (uint64, error) {
	if err := checkPrecision(precision); err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}
	scaled := amount.Shift(precision).Truncate(0)
	value, err := SDKIntToUint64(sdkmath.NewIntFromBigInt(scaled.BigInt()))
	if err != nil {
		return 0, fmt.Errorf("%w: %s does not fit in base units", ErrConversionFailed, amount)
	}
	return value, nil
}

// BpsToPercent renders basis points as a percentage: 250 bps is 2.5.
func BpsToPercent(bps uint64) decimal.Decimal {
	return decimal.NewFromUint64(bps).Shift(-2)
}

// Uint64ToSDKInt widens an amount for aggregation.
func Uint64ToSDKInt(amount uint64) sdkmath.Int {
	return sdkmath.NewIntFromUint64(amount)
}

// SDKIntToUint64 narrows an aggregated amount, failing when it does not fit.
func SDKIntToUint64(amount sdkmath.Int) (uint64, error) {
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("%w: %s exceeds uint64", ErrConversionFailed, amount)
	}
	return amount.Uint64(), nil
}
