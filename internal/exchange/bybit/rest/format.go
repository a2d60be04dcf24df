package rest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Все цены и объёмы приходят десятичными строками; в float64 их не переводим.
func parseDecimal(value, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Некорректное значение %s=%q: %w", field, value, err)
	}
	return d, nil
}

func parseDecimalOrZero(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
