package fixed

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"strings"
)

// I64F64 is a signed fixed-point number with 64 integer bits and 64
// fractional bits. Arithmetic wraps like the underlying two's-complement
// integer; callers keep values within coordinate range.
type I64F64 struct {
	hi int64
	lo uint64
}

// FromBits builds a value from its raw two's-complement words.
func FromBits(hi int64, lo uint64) I64F64 {
	return I64F64{hi: hi, lo: lo}
}

// FromInt returns the fixed-point value of an integer.
func FromInt(v int64) I64F64 {
	return I64F64{hi: v}
}

// FromBytes reinterprets a big-endian 16-byte pattern.
func FromBytes(b [16]byte) I64F64 {
	x := Int128FromBytes(b)
	return I64F64{hi: x.Hi, lo: x.Lo}
}

// Bytes returns the big-endian bit pattern.
func (f I64F64) Bytes() [16]byte {
	return Int128{Hi: f.hi, Lo: f.lo}.Bytes()
}

// Bits returns the raw high and low words.
func (f I64F64) Bits() (int64, uint64) {
	return f.hi, f.lo
}

// Max is the largest representable value.
func Max() I64F64 {
	return I64F64{hi: math.MaxInt64, lo: math.MaxUint64}
}

func (f I64F64) Add(g I64F64) I64F64 {
	lo, carry := bits.Add64(f.lo, g.lo, 0)
	return I64F64{hi: f.hi + g.hi + int64(carry), lo: lo}
}

func (f I64F64) Sub(g I64F64) I64F64 {
	lo, borrow := bits.Sub64(f.lo, g.lo, 0)
	return I64F64{hi: f.hi - g.hi - int64(borrow), lo: lo}
}

func (f I64F64) Neg() I64F64 {
	return I64F64{}.Sub(f)
}

func (f I64F64) Abs() I64F64 {
	if f.hi < 0 {
		return f.Neg()
	}
	return f
}

// Half divides by two, rounding toward negative infinity.
func (f I64F64) Half() I64F64 {
	return I64F64{hi: f.hi >> 1, lo: f.lo>>1 | uint64(f.hi)<<63}
}

// Cmp returns -1, 0 or +1.
func (f I64F64) Cmp(g I64F64) int {
	switch {
	case f.hi < g.hi:
		return -1
	case f.hi > g.hi:
		return 1
	case f.lo < g.lo:
		return -1
	case f.lo > g.lo:
		return 1
	}
	return 0
}

func (f I64F64) Less(g I64F64) bool {
	return f.Cmp(g) < 0
}

// Float64 is lossy and meant for display and coarse spatial queries.
func (f I64F64) Float64() float64 {
	return float64(f.hi) + math.Ldexp(float64(f.lo), -64)
}

// FromFloat64 truncates toward zero at 2^-64 resolution.
func FromFloat64(v float64) (I64F64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return I64F64{}, fmt.Errorf("invalid fixed-point value %v", v)
	}
	bf := new(big.Float).SetFloat64(v)
	bf.Mul(bf, new(big.Float).SetInt(two64))
	n, _ := bf.Int(nil)
	x, err := Int128FromBig(n)
	if err != nil {
		return I64F64{}, err
	}
	return I64F64{hi: x.Hi, lo: x.Lo}, nil
}

// Parse reads a decimal such as "51.0" or "-0.125", truncating digits
// beyond 2^-64 resolution toward zero.
func Parse(s string) (I64F64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return I64F64{}, fmt.Errorf("invalid fixed-point value %q", s)
	}
	num := new(big.Int).Mul(r.Num(), two64)
	num.Quo(num, r.Denom())
	x, err := Int128FromBig(num)
	if err != nil {
		return I64F64{}, err
	}
	return I64F64{hi: x.Hi, lo: x.Lo}, nil
}

// String renders the exact decimal value.
func (f I64F64) String() string {
	r := new(big.Rat).SetFrac(Int128{Hi: f.hi, Lo: f.lo}.Big(), two64)
	s := strings.TrimRight(r.FloatString(64), "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func (f I64F64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}
