// Package fixed holds the 128-bit integer and 64.64 fixed-point types used
// for coordinates. Both are plain two's-complement bit patterns split into a
// signed high word and an unsigned low word.
package fixed

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
)

var (
	two64      = new(big.Int).Lsh(big.NewInt(1), 64)
	two128     = new(big.Int).Lsh(big.NewInt(1), 128)
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	mask64     = new(big.Int).Sub(two64, big.NewInt(1))
	jsonNull   = []byte("null")
)

// Int128 is a signed 128-bit integer.
type Int128 struct {
	Hi int64
	Lo uint64
}

// Int128FromInt64 sign-extends v.
func Int128FromInt64(v int64) Int128 {
	hi := int64(0)
	if v < 0 {
		hi = -1
	}
	return Int128{Hi: hi, Lo: uint64(v)}
}

// Int128FromBytes reads a big-endian two's-complement value.
func Int128FromBytes(b [16]byte) Int128 {
	return Int128{
		Hi: int64(binary.BigEndian.Uint64(b[:8])),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}
}

// Bytes returns the big-endian two's-complement representation.
func (x Int128) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], uint64(x.Hi))
	binary.BigEndian.PutUint64(b[8:], x.Lo)
	return b
}

// Big returns x as a big.Int.
func (x Int128) Big() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(x.Hi), 64)
	return v.Add(v, new(big.Int).SetUint64(x.Lo))
}

// Int128FromBig fails when v does not fit in 128 signed bits.
func Int128FromBig(v *big.Int) (Int128, error) {
	if v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
		return Int128{}, fmt.Errorf("value %s out of int128 range", v)
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	lo := new(big.Int).And(u, mask64).Uint64()
	hi := new(big.Int).Rsh(u, 64).Uint64()
	return Int128{Hi: int64(hi), Lo: lo}, nil
}

// ParseInt128 parses a base-10 integer.
func ParseInt128(s string) (Int128, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int128{}, fmt.Errorf("invalid int128 %q", s)
	}
	return Int128FromBig(v)
}

func (x Int128) String() string {
	return x.Big().String()
}

// MarshalJSON writes a quoted decimal string so that clients without
// 128-bit numbers keep every digit.
func (x Int128) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
// null leaves x unchanged.
func (x *Int128) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return fmt.Errorf("invalid int128 %s", data)
		}
	}
	v, err := ParseInt128(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}
