package blend

// Mode is a pixel merge operator.
type Mode uint8

const (
	// ModeOver composites the source over the destination:
	// S + D * (1 - Sa). The source is the closer image.
	ModeOver Mode = iota

	// ModeUnder composites the destination over the source:
	// S * (1 - Da) + D. The destination is the closer image.
	ModeUnder

	// ModeDepth keeps whichever fragment has the smaller depth.
	ModeDepth
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeOver:
		return "over"
	case ModeUnder:
		return "under"
	case ModeDepth:
		return "depth"
	}
	return "unknown"
}

// over composites a premultiplied source pixel over a destination pixel.
// Formula: S + D * (1 - Sa)
func over(sr, sg, sb, sa, dr, dg, db, da byte) (byte, byte, byte, byte) {
	invSa := 255 - sa
	return addClamp(sr, mulDiv255(dr, invSa)),
		addClamp(sg, mulDiv255(dg, invSa)),
		addClamp(sb, mulDiv255(db, invSa)),
		addClamp(sa, mulDiv255(da, invSa))
}

// overFloat is over for premultiplied float channels.
func overFloat(s, d [4]float32) [4]float32 {
	inv := 1 - s[3]
	return [4]float32{
		s[0] + d[0]*inv,
		s[1] + d[1]*inv,
		s[2] + d[2]*inv,
		s[3] + d[3]*inv,
	}
}
