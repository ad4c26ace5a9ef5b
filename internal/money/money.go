// Package money 金额工具：定点小数运算、分（minor unit）换算与小票格式化。
//
// 所有金额使用 2 位小数的 decimal，任何环节都不经过 float 中转。
package money

import (
	"encoding/json"
	"math"
	"strings"

	ledgerErrors "pos-ledger/internal/errors"

	"github.com/shopspring/decimal"
)

// Places 金额小数位
const Places = 2

var hundred = decimal.NewFromInt(100)

// Zero 零金额
var Zero = decimal.Zero

// ToCents 换算为分：先四舍五入到 2 位（half-up），再乘 100，最后截断取整
func ToCents(d decimal.Decimal) int64 {
	return d.Round(Places).Mul(hundred).IntPart()
}

// FromCents 分转金额
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// Round 金额规整到 2 位小数
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse 解析外部传入的金额，支持 string / 整数 / 浮点 / decimal / json.Number。
// 无法解析或为负数时返回 InvalidAmount。
func Parse(v interface{}) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch value := v.(type) {
	case decimal.Decimal:
		d = value
	case *decimal.Decimal:
		if value == nil {
			return Zero, ledgerErrors.InvalidAmount("amount is nil")
		}
		d = *value
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(value))
	case json.Number:
		d, err = decimal.NewFromString(value.String())
	case int:
		d = decimal.NewFromInt(int64(value))
	case int32:
		d = decimal.NewFromInt32(value)
	case int64:
		d = decimal.NewFromInt(value)
	case float32:
		if err = requireFinite(float64(value)); err == nil {
			d = decimal.NewFromFloat32(value)
		}
	case float64:
		if err = requireFinite(value); err == nil {
			d = decimal.NewFromFloat(value)
		}
	default:
		return Zero, ledgerErrors.InvalidAmount("unsupported amount type %T", v)
	}
	if err != nil {
		return Zero, ledgerErrors.InvalidAmount("invalid amount %v: %v", v, err)
	}
	if d.IsNegative() {
		return Zero, ledgerErrors.InvalidAmount("amount %s is negative", d.String())
	}
	return d, nil
}

// ParseOr 解析失败时返回默认值，用于小票等不能阻塞收银的场景
func ParseOr(v interface{}, def decimal.Decimal) decimal.Decimal {
	d, err := Parse(v)
	if err != nil {
		return def
	}
	return d
}

// RequirePositive 校验金额大于 0
func RequirePositive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ledgerErrors.InvalidAmount("amount %s must be positive", d.String())
	}
	return nil
}

// Format 格式化为固定两位小数，如 "12.50"
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// FormatCurrency 小票金额，如 "$12.50"；symbol 为空时只输出数字
func FormatCurrency(v interface{}, symbol string) string {
	return symbol + Format(Round(ParseOr(v, Zero)))
}

// Sum 金额求和
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// requireFinite NaN / Inf 会让 decimal.NewFromFloat* panic，需先拦截
func requireFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ledgerErrors.InvalidAmount("amount %v is not a finite number", f)
	}
	return nil
}
