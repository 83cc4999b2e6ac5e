package steptable

import (
	"fmt"
	"math"
)

// KeyKind is the numeric kind of the key column, resolved once at open time
// from the table schema.
type KeyKind int

const (
	KeyInt64 KeyKind = iota
	KeyFloat64
)

func (k KeyKind) String() string {
	switch k {
	case KeyInt64:
		return "int64"
	case KeyFloat64:
		return "float64"
	default:
		return fmt.Sprintf("KeyKind(%d)", int(k))
	}
}

// keyValue holds a single key column value in whichever representation the
// table's key kind uses. Only the field matching the kind is meaningful.
type keyValue struct {
	i int64
	f float64
}

// stepBounds is a half-open [lower, upper) request interval expressed in the
// table's key kind.
type stepBounds struct {
	kind KeyKind
	iLo  int64
	iHi  int64
	fLo  float64
	fHi  float64
}

// atOrAboveLower reports v >= lower.
func (b stepBounds) atOrAboveLower(v keyValue) bool {
	if b.kind == KeyInt64 {
		return v.i >= b.iLo
	}
	return v.f >= b.fLo
}

// belowUpper reports v < upper.
func (b stepBounds) belowUpper(v keyValue) bool {
	if b.kind == KeyInt64 {
		return v.i < b.iHi
	}
	return v.f < b.fHi
}

// empty reports whether the interval is vacuously empty.
func (b stepBounds) empty() bool {
	if b.kind == KeyInt64 {
		return b.iLo >= b.iHi
	}
	return !(b.fLo < b.fHi)
}

func int64Bounds(minStep, maxStep int64) stepBounds {
	return stepBounds{kind: KeyInt64, iLo: minStep, iHi: maxStep}
}

// float64Bounds converts caller-supplied float bounds into the table's key
// kind. For integer keys the conversion uses ceiling semantics, which keeps
// the half-open interval meaning exact for fractional inputs: min 10.5 means
// keys >= 11, max 19.5 means keys < 20.
func float64Bounds(kind KeyKind, minStep, maxStep float64) (stepBounds, error) {
	if math.IsNaN(minStep) || math.IsNaN(maxStep) {
		return stepBounds{}, fmt.Errorf("step bounds cannot be NaN")
	}

	if kind == KeyFloat64 {
		return stepBounds{kind: KeyFloat64, fLo: minStep, fHi: maxStep}, nil
	}

	return stepBounds{kind: KeyInt64, iLo: ceilToInt64(minStep), iHi: ceilToInt64(maxStep)}, nil
}

// ceilToInt64 rounds up to the nearest int64, clamping at the extremes so
// that infinite or out-of-range bounds degrade to "everything" or "nothing"
// instead of wrapping.
func ceilToInt64(v float64) int64 {
	c := math.Ceil(v)
	switch {
	case c <= math.MinInt64:
		return math.MinInt64
	case c >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(c)
	}
}
