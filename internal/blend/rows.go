package blend

// OverRow composites src over dst in place. Both hold premultiplied RGBA8
// pixels; the shorter slice bounds the work.
func OverRow(dst, src []byte) {
	n := min(len(dst), len(src)) &^ 3
	for i := 0; i < n; i += 4 {
		sa := src[i+3]
		switch sa {
		case 255:
			copy(dst[i:i+4], src[i:i+4])
			continue
		case 0:
			if src[i]|src[i+1]|src[i+2] == 0 {
				continue
			}
		}
		dst[i], dst[i+1], dst[i+2], dst[i+3] = over(
			src[i], src[i+1], src[i+2], sa,
			dst[i], dst[i+1], dst[i+2], dst[i+3])
	}
}

// UnderRow composites dst over src in place: dst is the closer image.
func UnderRow(dst, src []byte) {
	n := min(len(dst), len(src)) &^ 3
	for i := 0; i < n; i += 4 {
		if dst[i+3] == 255 {
			continue
		}
		dst[i], dst[i+1], dst[i+2], dst[i+3] = over(
			dst[i], dst[i+1], dst[i+2], dst[i+3],
			src[i], src[i+1], src[i+2], src[i+3])
	}
}

// OverRowFloat composites src over dst for premultiplied RGBA32F pixels.
func OverRowFloat(dst, src []float32) {
	n := min(len(dst), len(src)) &^ 3
	for i := 0; i < n; i += 4 {
		r := overFloat([4]float32(src[i:i+4]), [4]float32(dst[i:i+4]))
		copy(dst[i:i+4], r[:])
	}
}

// UnderRowFloat composites dst over src for premultiplied RGBA32F pixels.
func UnderRowFloat(dst, src []float32) {
	n := min(len(dst), len(src)) &^ 3
	for i := 0; i < n; i += 4 {
		r := overFloat([4]float32(dst[i:i+4]), [4]float32(src[i:i+4]))
		copy(dst[i:i+4], r[:])
	}
}

// DepthRow keeps, per pixel, the fragment with the smaller depth. Color has
// four bytes per depth value. Equal depths keep dst.
func DepthRow(dstColor []byte, dstDepth []float32, srcColor []byte, srcDepth []float32) {
	n := min(len(dstDepth), len(srcDepth))
	for i := range n {
		if srcDepth[i] < dstDepth[i] {
			dstDepth[i] = srcDepth[i]
			if dstColor != nil && srcColor != nil {
				copy(dstColor[4*i:4*i+4], srcColor[4*i:4*i+4])
			}
		}
	}
}

// DepthRowFloat is DepthRow for RGBA32F color.
func DepthRowFloat(dstColor []float32, dstDepth []float32, srcColor []float32, srcDepth []float32) {
	n := min(len(dstDepth), len(srcDepth))
	for i := range n {
		if srcDepth[i] < dstDepth[i] {
			dstDepth[i] = srcDepth[i]
			if dstColor != nil && srcColor != nil {
				copy(dstColor[4*i:4*i+4], srcColor[4*i:4*i+4])
			}
		}
	}
}

// Background composites every pixel of dst over the opaque or translucent
// color bg, which is not premultiplied.
func Background(dst []byte, bg [4]byte) {
	pb := [4]byte{mulDiv255(bg[0], bg[3]), mulDiv255(bg[1], bg[3]), mulDiv255(bg[2], bg[3]), bg[3]}
	n := len(dst) &^ 3
	for i := 0; i < n; i += 4 {
		if dst[i+3] == 255 {
			continue
		}
		dst[i], dst[i+1], dst[i+2], dst[i+3] = over(
			dst[i], dst[i+1], dst[i+2], dst[i+3],
			pb[0], pb[1], pb[2], pb[3])
	}
}

// BackgroundFloat is Background for RGBA32F color.
func BackgroundFloat(dst []float32, bg [4]float32) {
	pb := [4]float32{bg[0] * bg[3], bg[1] * bg[3], bg[2] * bg[3], bg[3]}
	n := len(dst) &^ 3
	for i := 0; i < n; i += 4 {
		r := overFloat([4]float32(dst[i:i+4]), pb)
		copy(dst[i:i+4], r[:])
	}
}
