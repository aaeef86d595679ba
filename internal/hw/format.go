package hw

import (
	"fmt"
	"strings"
)

// Encoding is a FourCC pixel encoding.
type Encoding uint32

func fourCC(s string) Encoding {
	return Encoding(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24)
}

// Known encodings.
var (
	EncodingOpaque = fourCC("OPQV")
	EncodingRGBA   = fourCC("RGBA")
	EncodingRGB24  = fourCC("RGB3")
	EncodingBGR24  = fourCC("BGR3")
	EncodingI420   = fourCC("I420")
	EncodingBayer  = fourCC("pRAA")
)

var encodingNames = map[string]Encoding{
	"opaque": EncodingOpaque,
	"rgba":   EncodingRGBA,
	"rgb24":  EncodingRGB24,
	"bgr24":  EncodingBGR24,
	"i420":   EncodingI420,
	"bayer":  EncodingBayer,
}

// ParseEncoding resolves a lowercase encoding name such as "rgb24".
func ParseEncoding(name string) (Encoding, error) {
	if e, ok := encodingNames[strings.ToLower(name)]; ok {
		return e, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", name)
}

// String returns the FourCC characters.
func (e Encoding) String() string {
	b := []byte{byte(e), byte(e >> 8), byte(e >> 16), byte(e >> 24)}
	return string(b)
}

// Name returns the lowercase name accepted by ParseEncoding.
func (e Encoding) Name() string {
	for name, enc := range encodingNames {
		if enc == e {
			return name
		}
	}
	return e.String()
}

// FrameSize returns the payload size in bytes of a width x height image.
func (e Encoding) FrameSize(width, height int) int {
	switch e {
	case EncodingRGBA:
		return width * height * 4
	case EncodingRGB24, EncodingBGR24:
		return width * height * 3
	case EncodingI420:
		return width * height * 3 / 2
	case EncodingBayer:
		return width * height * 5 / 4
	case EncodingOpaque:
		return 128
	default:
		return width * height * 4
	}
}

// Rect is a rectangle in pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Format is the negotiated format of a port. Width and Height are the
// aligned buffer dimensions; Crop carries the visible image.
type Format struct {
	Encoding Encoding
	Width    int
	Height   int
	Crop     Rect
}

// Alignment the hardware expects for buffer dimensions.
const (
	WidthAlign  = 32
	HeightAlign = 16
)

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

// AlignedFormat builds a format whose buffer is width/height aligned up to
// hardware requirements, with the crop set to the requested size at the origin.
func AlignedFormat(enc Encoding, width, height int) Format {
	return Format{
		Encoding: enc,
		Width:    alignUp(width, WidthAlign),
		Height:   alignUp(height, HeightAlign),
		Crop:     Rect{Width: width, Height: height},
	}
}

// PayloadSize is the size of one visible frame in this format.
func (f Format) PayloadSize() int {
	return f.Encoding.FrameSize(f.Crop.Width, f.Crop.Height)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dx%d crop %dx%d+%d+%d",
		f.Encoding, f.Width, f.Height, f.Crop.Width, f.Crop.Height, f.Crop.X, f.Crop.Y)
}

// DisplayRegion places rendered output on the display.
type DisplayRegion struct {
	Fullscreen bool `json:"fullscreen"`
	Dest       Rect `json:"dest"`
	Layer      int  `json:"layer"`
}
