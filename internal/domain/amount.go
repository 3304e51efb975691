package domain

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits of one token.
const AmountDecimals = 18

var tokenUnit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(AmountDecimals))

// Amount is a non-negative token quantity held in atto units (10^-18 token).
// Addition saturates at the 256-bit maximum instead of wrapping.
// The zero value is zero tokens.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount of the given atto units.
func NewAmount(atto uint64) Amount {
	var a Amount
	a.v.SetUint64(atto)
	return a
}

// Tokens returns an Amount of n whole tokens.
func Tokens(n uint64) Amount {
	var a Amount
	a.v.Mul(uint256.NewInt(n), tokenUnit)
	return a
}

// MaxAmount returns the largest representable Amount.
func MaxAmount() Amount {
	var a Amount
	a.v.SetAllOne()
	return a
}

// ParseAmount parses a decimal token quantity such as "12.5". Digits beyond
// the 18th fractional place are truncated.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("amount %q: %w", s, ErrInvalidParameters)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("amount %q is negative: %w", s, ErrInvalidParameters)
	}
	return fromDecimalAtto(d.Shift(AmountDecimals))
}

func fromDecimalAtto(d decimal.Decimal) (Amount, error) {
	b := d.Floor().BigInt()
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount %s is negative: %w", d, ErrInvalidParameters)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, fmt.Errorf("amount %s overflows: %w", d, ErrInvalidParameters)
	}
	return Amount{v: *v}, nil
}

// Atto returns the amount in atto units.
func (a Amount) Atto() *big.Int { return a.v.ToBig() }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// SaturatingAdd returns a+b, capped at MaxAmount.
func (a Amount) SaturatingAdd(b Amount) Amount {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return MaxAmount()
	}
	return out
}

// Split divides a into n equal shares and returns one share and the
// remainder. n must be positive.
func (a Amount) Split(n int) (share, remainder Amount) {
	if n <= 0 {
		return Amount{}, a
	}
	d := uint256.NewInt(uint64(n))
	share.v.Div(&a.v, d)
	remainder.v.Mod(&a.v, d)
	return share, remainder
}

// MulRatioFloor returns floor(a × ratio). The ratio is clamped to [0, 1].
func (a Amount) MulRatioFloor(ratio float64) Amount {
	switch {
	case math.IsNaN(ratio) || ratio <= 0:
		return Amount{}
	case ratio >= 1:
		return a
	}
	out, err := fromDecimalAtto(a.decimalAtto().Mul(decimal.NewFromFloat(ratio)))
	if err != nil {
		return Amount{}
	}
	return out
}

// Ratio returns a / of as a float. It returns 0 when of is zero.
func (a Amount) Ratio(of Amount) float64 {
	if of.IsZero() {
		return 0
	}
	return a.decimalAtto().DivRound(of.decimalAtto(), 18).InexactFloat64()
}

// Decimal returns the amount in whole tokens.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), -AmountDecimals)
}

func (a Amount) decimalAtto() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), 0)
}

// String formats the amount in whole tokens, e.g. "12.5".
func (a Amount) String() string { return a.Decimal().String() }

// MarshalText encodes the amount as a decimal token string.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText decodes a decimal token string.
func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
