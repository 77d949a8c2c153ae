package vicap

import "fmt"

// VFKind classifies the color encoding of a video format.
type VFKind int

// Supported encoding classes.
const (
	VFRaw8 VFKind = iota
	VFRaw10
	VFRaw12
	VFRGB888
	VFYUV422
)

// Image-definition format and data-type codes programmed into the DMA
// engine per format.
const (
	imgFormatL8      uint32 = 0x10
	imgFormatL16     uint32 = 0x20
	imgFormatRGB888  uint32 = 0x30
	imgFormatYUV422  uint32 = 0x40
	imgDTRaw8        uint32 = 42
	imgDTRaw10       uint32 = 43
	imgDTRaw12       uint32 = 44
	imgDTRGB888      uint32 = 36
	imgDTYUV422      uint32 = 30
)

// VideoFormat describes one supported pixel encoding: its wire width on the
// serial link, its size in host memory, and the codes the DMA engine needs.
type VideoFormat struct {
	Kind          VFKind
	BitsPerPixel  int // bits per pixel on the link
	BytesPerPixel int // bytes per pixel in memory
	ImgFormat     uint32
	ImgDataType   uint32
	Name          string
}

var videoFormats = []VideoFormat{
	{VFRaw8, 8, 1, imgFormatL8, imgDTRaw8, "RAW8"},
	{VFRaw10, 10, 2, imgFormatL16, imgDTRaw10, "RAW10"},
	{VFRaw12, 12, 2, imgFormatL16, imgDTRaw12, "RAW12"},
	{VFRGB888, 24, 4, imgFormatRGB888, imgDTRGB888, "RGB888"},
	{VFYUV422, 16, 2, imgFormatYUV422, imgDTYUV422, "YUV422"},
}

// FormatByName returns the format information for a named encoding, or a
// ConfigInvalid error for encodings the capture path cannot produce.
func FormatByName(name string) (*VideoFormat, error) {
	for i := range videoFormats {
		if videoFormats[i].Name == name {
			return &videoFormats[i], nil
		}
	}
	return nil, fmt.Errorf("unsupported pixel format %q", name)
}

// WordCount computes the link word count register value for a line of the
// given width.
func (f *VideoFormat) WordCount(width uint32) uint32 {
	return width * uint32(f.BitsPerPixel) / 8
}

// Format holds the active frame geometry of a channel.
type Format struct {
	Width        uint32
	Height       uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// GangMode describes how one logical frame is split across physical ports
// when the resolution exceeds single-port throughput.
type GangMode int

// Gang modes. Left/right modes split lines, top/bottom modes split fields.
const (
	GangNone GangMode = iota
	GangLeftRight
	GangRightLeft
	GangTopBottom
	GangBottomTop
)

// surfaceAlignment is the byte alignment required of per-port surface
// offsets by the DMA engine.
const surfaceAlignment = 64

func gangModeWidth(mode GangMode, width uint32) uint32 {
	if mode == GangLeftRight || mode == GangRightLeft {
		return width >> 1
	}
	return width
}

func gangModeHeight(mode GangMode, height uint32) uint32 {
	if mode == GangTopBottom || mode == GangBottomTop {
		return height >> 1
	}
	return height
}
