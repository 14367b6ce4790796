package icet

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/klauspost/compress/zstd"
)

// Image messages start with a flag byte, then a 16-byte header (width,
// height, color format, depth format; big endian uint32) and the raw
// planes. With flagZstd everything after the flag byte is zstd-compressed.
const (
	flagRaw  byte = 0
	flagZstd byte = 1

	headerLen = 16
)

var (
	encoders sync.Map // zstd.EncoderLevel -> *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func encoderFor(level int) (*zstd.Encoder, error) {
	lvl := zstd.EncoderLevelFromZstd(level)
	if v, ok := encoders.Load(lvl); ok {
		return v.(*zstd.Encoder), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	v, _ := encoders.LoadOrStore(lvl, enc)
	return v.(*zstd.Encoder), nil
}

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

// EncodeImage serializes img for a stream between processes. level <= 0
// disables compression.
func EncodeImage(img *Image, level int) ([]byte, error) { return encodeImage(img, level) }

// DecodeImage parses a message written by EncodeImage.
func DecodeImage(msg []byte) (*Image, error) {
	img := &Image{}
	if err := decodeImage(msg, img); err != nil {
		return nil, err
	}
	return img, nil
}

// encodeImage serializes img. level <= 0 disables compression.
func encodeImage(img *Image, level int) ([]byte, error) {
	n := img.Width * img.Height
	size := 1 + headerLen + len(img.Color) + 4*len(img.ColorF) + 4*len(img.Depth)
	buf := make([]byte, 1+headerLen, size)
	buf[0] = flagRaw
	binary.BigEndian.PutUint32(buf[1:], uint32(img.Width))
	binary.BigEndian.PutUint32(buf[5:], uint32(img.Height))
	binary.BigEndian.PutUint32(buf[9:], uint32(img.ColorFormat))
	binary.BigEndian.PutUint32(buf[13:], uint32(img.DepthFormat))

	switch img.ColorFormat {
	case gputypes.TextureFormatRGBA8Unorm:
		buf = append(buf, img.Color[:4*n]...)
	case gputypes.TextureFormatRGBA32Float:
		buf = appendFloats(buf, img.ColorF[:4*n])
	}
	if img.HasDepth() {
		buf = appendFloats(buf, img.Depth[:n])
	}

	if level <= 0 {
		return buf, nil
	}
	enc, err := encoderFor(level)
	if err != nil {
		return nil, fmt.Errorf("icet: zstd encoder: %w", err)
	}
	out := make([]byte, 1, len(buf)/2+1)
	out[0] = flagZstd
	return enc.EncodeAll(buf[1:], out), nil
}

// decodeImage parses a message produced by encodeImage into img, which is
// resized to match.
func decodeImage(msg []byte, img *Image) error {
	if len(msg) < 1 {
		return ErrCorruptImage
	}
	body := msg[1:]
	switch msg[0] {
	case flagRaw:
	case flagZstd:
		dec, err := sharedDecoder()
		if err != nil {
			return fmt.Errorf("icet: zstd decoder: %w", err)
		}
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptImage, err)
		}
	default:
		return fmt.Errorf("%w: flag %d", ErrCorruptImage, msg[0])
	}
	if len(body) < headerLen {
		return fmt.Errorf("%w: short header", ErrCorruptImage)
	}

	w := int(binary.BigEndian.Uint32(body[0:]))
	h := int(binary.BigEndian.Uint32(body[4:]))
	img.ColorFormat = gputypes.TextureFormat(binary.BigEndian.Uint32(body[8:]))
	img.DepthFormat = gputypes.TextureFormat(binary.BigEndian.Uint32(body[12:]))
	body = body[headerLen:]

	n := w * h
	want := n * colorBytes(img.ColorFormat)
	if img.HasDepth() {
		want += 4 * n
	}
	if w < 0 || h < 0 || len(body) != want {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrCorruptImage, w, h, want, len(body))
	}

	img.Resize(w, h)
	switch img.ColorFormat {
	case gputypes.TextureFormatRGBA8Unorm:
		copy(img.Color, body[:4*n])
		body = body[4*n:]
	case gputypes.TextureFormatRGBA32Float:
		readFloats(img.ColorF, body)
		body = body[16*n:]
	}
	if img.HasDepth() {
		readFloats(img.Depth, body)
	}
	return nil
}

// colorBytes returns bytes per pixel of a supported color format.
func colorBytes(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return 4
	case gputypes.TextureFormatRGBA32Float:
		return 16
	}
	return 0
}

func appendFloats(buf []byte, v []float32) []byte {
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func readFloats(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
}
