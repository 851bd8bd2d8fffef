package analytics

import "github.com/shopspring/decimal"

// percent returns round(100*part/whole), half up, and 0 for an empty whole
func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(whole))).
		Round(0).
		IntPart())
}

// meanOneDecimal returns the mean of values rounded to one decimal place, half up
func meanOneDecimal(sum, count int) float64 {
	if count == 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(int64(sum)).
		Div(decimal.NewFromInt(int64(count))).
		Round(1).
		Float64()
	return f
}
