package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Format is an output image format the transform engine can encode.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

// ParseFormat resolves a format name or common alias.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "gif":
		return FormatGIF, true
	case "tiff", "tif":
		return FormatTIFF, true
	case "bmp":
		return FormatBMP, true
	}
	return "", false
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	}
	return "application/octet-stream"
}

// Fit selects how the source is mapped onto the target dimensions.
type Fit string

const (
	FitCover   Fit = "cover"
	FitContain Fit = "contain"
	FitFill    Fit = "fill"
	FitInside  Fit = "inside"
	FitOutside Fit = "outside"
)

func ParseFit(s string) (Fit, bool) {
	switch Fit(strings.ToLower(s)) {
	case FitCover, FitContain, FitFill, FitInside, FitOutside:
		return Fit(strings.ToLower(s)), true
	}
	return "", false
}

// Position anchors the crop (cover) or the pasted image (contain).
type Position string

const (
	PositionCenter    Position = "center"
	PositionNorth     Position = "north"
	PositionNortheast Position = "northeast"
	PositionEast      Position = "east"
	PositionSoutheast Position = "southeast"
	PositionSouth     Position = "south"
	PositionSouthwest Position = "southwest"
	PositionWest      Position = "west"
	PositionNorthwest Position = "northwest"
)

var positionAliases = map[string]Position{
	"c":  PositionCenter,
	"n":  PositionNorth,
	"ne": PositionNortheast,
	"e":  PositionEast,
	"se": PositionSoutheast,
	"s":  PositionSouth,
	"sw": PositionSouthwest,
	"w":  PositionWest,
	"nw": PositionNorthwest,
}

// ParsePosition resolves a long name or short alias to the single
// canonical spelling, so "ne" and "northeast" map to the same key.
func ParsePosition(s string) (Position, bool) {
	lower := strings.ToLower(s)
	if p, ok := positionAliases[lower]; ok {
		return p, true
	}
	switch Position(lower) {
	case PositionCenter, PositionNorth, PositionNortheast, PositionEast,
		PositionSoutheast, PositionSouth, PositionSouthwest, PositionWest,
		PositionNorthwest:
		return Position(lower), true
	}
	return "", false
}

// Kernel is the resampling filter used when resizing.
type Kernel string

const (
	KernelNearest  Kernel = "nearest"
	KernelLinear   Kernel = "linear"
	KernelCubic    Kernel = "cubic"
	KernelMitchell Kernel = "mitchell"
	KernelLanczos2 Kernel = "lanczos2"
	KernelLanczos3 Kernel = "lanczos3"
)

func ParseKernel(s string) (Kernel, bool) {
	switch Kernel(strings.ToLower(s)) {
	case KernelNearest, KernelLinear, KernelCubic, KernelMitchell,
		KernelLanczos2, KernelLanczos3:
		return Kernel(strings.ToLower(s)), true
	}
	return "", false
}

// Color is a background color in rgb()/rgba() textual form.
type Color struct {
	R, G, B uint8
	A       float64
}

var (
	rgbPattern  = regexp.MustCompile(`^rgb\((\d{1,3}),(\d{1,3}),(\d{1,3})\)$`)
	rgbaPattern = regexp.MustCompile(`^rgba\((\d{1,3}),(\d{1,3}),(\d{1,3}),(\d*\.?\d+)\)$`)
)

// ParseColor validates the exact rgb(r,g,b) / rgba(r,g,b,a) grammar.
func ParseColor(s string) (Color, error) {
	var parts []string
	alpha := 1.0

	if m := rgbPattern.FindStringSubmatch(s); m != nil {
		parts = m[1:4]
	} else if m := rgbaPattern.FindStringSubmatch(s); m != nil {
		parts = m[1:4]
		a, err := strconv.ParseFloat(m[4], 64)
		if err != nil || a < 0 || a > 1 {
			return Color{}, fmt.Errorf("alpha must be between 0 and 1")
		}
		alpha = a
	} else {
		return Color{}, fmt.Errorf("expected rgb(r,g,b) or rgba(r,g,b,a)")
	}

	channels := make([]uint8, 3)
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v > 255 {
			return Color{}, fmt.Errorf("channel values must be between 0 and 255")
		}
		channels[i] = uint8(v)
	}

	return Color{R: channels[0], G: channels[1], B: channels[2], A: alpha}, nil
}

// String renders the canonical rgba form used in storage keys. Alpha
// is always fixed notation: scientific notation would not reparse, and
// its minus sign collides with the key's pair separator.
func (c Color) String() string {
	return fmt.Sprintf("rgba(%d,%d,%d,%s)",
		c.R, c.G, c.B, strconv.FormatFloat(c.A, 'f', -1, 64))
}

// EncoderOptions is the closed set of per-format encoder knobs. Each
// output format carries its own options type and dispatch is a type
// switch, never a string-keyed table.
type EncoderOptions interface {
	// pairs returns the name:value pairs this option set contributes to
	// the variant key.
	pairs() []pair
}

type pair struct {
	name  string
	value string
}

// JPEGOptions has no knobs beyond the global quality parameter.
type JPEGOptions struct{}

func (JPEGOptions) pairs() []pair { return nil }

// PNGOptions carries the zlib compression level, 0 (none) to 9 (best).
type PNGOptions struct {
	Compression int
}

func (o PNGOptions) pairs() []pair {
	return []pair{{"compression", strconv.Itoa(o.Compression)}}
}

// GIFOptions carries the palette size, 2 to 256 colors.
type GIFOptions struct {
	Colors int
}

func (o GIFOptions) pairs() []pair {
	return []pair{{"colors", strconv.Itoa(o.Colors)}}
}

// TIFFOptions has no knobs.
type TIFFOptions struct{}

func (TIFFOptions) pairs() []pair { return nil }

// BMPOptions has no knobs.
type BMPOptions struct{}

func (BMPOptions) pairs() []pair { return nil }

const (
	defaultQuality        = 100
	defaultPNGCompression = 6
	defaultGIFColors      = 256
	maxDimension          = 16384
)

// DefaultBackground is fully transparent black.
var DefaultBackground = Color{A: 0}

// RawParams is a partially specified transform request, before defaults
// and alias resolution. Nil pointers and empty strings mean "absent".
// Options holds format-specific encoder knobs by name.
type RawParams struct {
	Width      *int
	Height     *int
	Quality    *int
	Format     string
	Fit        string
	Position   string
	Background string
	Kernel     string
	Options    map[string]string
}

// CanonicalParams is a fully defaulted, alias-resolved parameter set.
// Width/Height of 0 mean the dimension is unconstrained; realized
// parameter sets (those encoded into keys) always carry both.
type CanonicalParams struct {
	Width      int
	Height     int
	Quality    int
	Fit        Fit
	Position   Position
	Background Color
	Kernel     Kernel
	Format     Format
	Encoder    EncoderOptions
}

// Canonicalize applies defaults, expands aliases, validates ranges and
// cleans format-specific encoder options. fallback is the format used
// when the request names none, normally the source image's format. The
// returned error, if any, is a *ValidationError listing every failed
// field. Canonicalize is pure.
func Canonicalize(raw RawParams, fallback Format) (CanonicalParams, error) {
	verr := &ValidationError{}

	p := CanonicalParams{
		Quality:    defaultQuality,
		Fit:        FitCover,
		Position:   PositionCenter,
		Background: DefaultBackground,
		Kernel:     KernelLanczos3,
		Format:     fallback,
	}

	if raw.Width != nil {
		if *raw.Width < 1 || *raw.Width > maxDimension {
			verr.add("width", fmt.Sprintf("must be between 1 and %d", maxDimension))
		} else {
			p.Width = *raw.Width
		}
	}

	if raw.Height != nil {
		if *raw.Height < 1 || *raw.Height > maxDimension {
			verr.add("height", fmt.Sprintf("must be between 1 and %d", maxDimension))
		} else {
			p.Height = *raw.Height
		}
	}

	if raw.Quality != nil {
		if *raw.Quality < 1 || *raw.Quality > 100 {
			verr.add("quality", "must be between 1 and 100")
		} else {
			p.Quality = *raw.Quality
		}
	}

	if raw.Format != "" {
		if f, ok := ParseFormat(raw.Format); ok {
			p.Format = f
		} else {
			verr.add("format", "unsupported format")
		}
	}

	if raw.Fit != "" {
		if f, ok := ParseFit(raw.Fit); ok {
			p.Fit = f
		} else {
			verr.add("fit", "must be one of cover, contain, fill, inside, outside")
		}
	}

	if raw.Position != "" {
		if pos, ok := ParsePosition(raw.Position); ok {
			p.Position = pos
		} else {
			verr.add("position", "unknown position")
		}
	}

	if raw.Background != "" {
		if c, err := ParseColor(raw.Background); err == nil {
			p.Background = c
		} else {
			verr.add("background", err.Error())
		}
	}

	if raw.Kernel != "" {
		if k, ok := ParseKernel(raw.Kernel); ok {
			p.Kernel = k
		} else {
			verr.add("kernel", "unknown resampling kernel")
		}
	}

	p.Encoder = cleanEncoderOptions(p.Format, raw.Options, verr)

	if err := verr.orNil(); err != nil {
		return CanonicalParams{}, err
	}
	return p, nil
}

// cleanEncoderOptions range-checks the knobs a format understands and
// silently drops everything else.
func cleanEncoderOptions(f Format, opts map[string]string, verr *ValidationError) EncoderOptions {
	switch f {
	case FormatPNG:
		o := PNGOptions{Compression: defaultPNGCompression}
		if raw, ok := opts["compression"]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 || v > 9 {
				verr.add("compression", "must be between 0 and 9")
			} else {
				o.Compression = v
			}
		}
		return o
	case FormatGIF:
		o := GIFOptions{Colors: defaultGIFColors}
		if raw, ok := opts["colors"]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 2 || v > 256 {
				verr.add("colors", "must be between 2 and 256")
			} else {
				o.Colors = v
			}
		}
		return o
	case FormatTIFF:
		return TIFFOptions{}
	case FormatBMP:
		return BMPOptions{}
	default:
		return JPEGOptions{}
	}
}

// PixelCount orders renditions by the amount of detail they retain.
func (p CanonicalParams) PixelCount() int {
	return p.Width * p.Height
}

// OriginalParams is the canonical parameter set an original rendition
// is stored under: native dimensions, native format, full quality.
func OriginalParams(width, height int, format Format) CanonicalParams {
	verr := &ValidationError{}
	return CanonicalParams{
		Width:      width,
		Height:     height,
		Quality:    defaultQuality,
		Fit:        FitCover,
		Position:   PositionCenter,
		Background: DefaultBackground,
		Kernel:     KernelLanczos3,
		Format:     format,
		Encoder:    cleanEncoderOptions(format, nil, verr),
	}
}
