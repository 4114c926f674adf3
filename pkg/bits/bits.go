// Package bits reads and writes bit fields the way ISO/IEC 7816 tables
// number them: bit 1 is the least significant bit.
package bits

import mathbits "math/bits"

// Unsigned is the set of integer types the helpers work on.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

func width[T Unsigned]() uint {
	var zero T
	return uint(mathbits.Len64(uint64(^zero)))
}

// Bit returns a value with only bit n set. Out of range positions give 0.
func Bit[T Unsigned](n uint) T {
	if n < 1 || n > width[T]() {
		return 0
	}
	return T(1) << (n - 1)
}

// IsSet reports whether bit n of v is set.
func IsSet[T Unsigned](v T, n uint) bool {
	return v&Bit[T](n) != 0
}

// Set returns v with bit n set.
func Set[T Unsigned](v T, n uint) T {
	return v | Bit[T](n)
}

// Clear returns v with bit n cleared.
func Clear[T Unsigned](v T, n uint) T {
	return v &^ Bit[T](n)
}

func fieldMask[T Unsigned](high, low uint) (T, bool) {
	if low < 1 || high < low || high > width[T]() {
		return 0, false
	}
	return T(^uint64(0)>>(64-(high-low+1))) << (low - 1), true
}

// Field extracts bits high down to low, shifted to bit 1: Field(0x0C, 4, 3)
// is 3. An invalid range gives 0.
func Field[T Unsigned](v T, high, low uint) T {
	mask, ok := fieldMask[T](high, low)
	if !ok {
		return 0
	}
	return (v & mask) >> (low - 1)
}

// WithField returns v with bits high down to low replaced by x. Bits of x
// that do not fit are dropped; an invalid range leaves v unchanged.
func WithField[T Unsigned](v T, high, low uint, x T) T {
	mask, ok := fieldMask[T](high, low)
	if !ok {
		return v
	}
	return v&^mask | (x<<(low-1))&mask
}

// HasAll reports whether every bit of want is set in v.
func HasAll[T Unsigned](v, want T) bool {
	return v&want == want
}

// Masked reports whether v equals want on the bits set in mask.
func Masked[T Unsigned](v, want, mask T) bool {
	return v&mask == want&mask
}
