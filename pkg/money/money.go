// Package money LadoCoin 金额工具：两位小数定点数
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Places 金额精度（小数位数）
const Places = 2

var (
	ErrNotPositive   = errors.New("金额必须大于0")
	ErrTooManyPlaces = errors.New("金额最多两位小数")
)

var hundred = decimal.NewFromInt(100)

// Round 四舍五入到两位小数（远离零方向）
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Truncate 向零截断到两位小数，用于上限类计算，结果不会超过原值
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Places)
}

// Validate 校验金额：> 0 且不超过两位小数
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNotPositive
	}
	if !d.Equal(d.Round(Places)) {
		return ErrTooManyPlaces
	}
	return nil
}

// Percent 计算 amount * pct / 100，结果保留两位小数
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Min 返回较小值
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Parse 解析字符串金额
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
