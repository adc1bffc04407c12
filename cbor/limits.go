package cbor

// Limits represents protocol negotiation limits
type Limits struct {
	MaxFrame int `cbor:"max_frame"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// NegotiateLimits returns the minimum of two limit sets. A zero value on
// either side means "unspecified" and defers to the other side.
func NegotiateLimits(a, b Limits) Limits {
	switch {
	case a.MaxFrame <= 0:
		return b
	case b.MaxFrame <= 0:
		return a
	}
	return Limits{MaxFrame: min(a.MaxFrame, b.MaxFrame)}
}
