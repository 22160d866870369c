// Package transformer derives renditions with disintegration/imaging.
package transformer

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	// Register decoders for every supported source format.
	_ "image/gif"
	_ "image/jpeg"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"pixcache/internal/core/domain"
	"pixcache/internal/core/port"
)

// Engine implements port.Transformer.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Probe reads image metadata from the header without decoding pixels.
func (e *Engine) Probe(data []byte) (port.ImageInfo, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return port.ImageInfo{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}

	format, ok := domain.ParseFormat(name)
	if !ok {
		return port.ImageInfo{}, fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidImage, name)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return port.ImageInfo{}, fmt.Errorf("%w: no determinable dimensions", domain.ErrInvalidImage)
	}

	return port.ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Derive resizes and re-encodes source bytes into the target rendition.
// A resize happens when the realized target dimensions differ from the
// source's; a re-encode happens when the format differs or the target
// quality is lower than the source's recorded quality. Re-encoding at
// equal or higher quality cannot recover lost information, so the
// source bytes pass through with changed=false and nothing new needs
// storing.
func (e *Engine) Derive(data []byte, source, target domain.CanonicalParams) ([]byte, bool, error) {
	resize := target.Width != source.Width || target.Height != source.Height
	reencode := target.Format != source.Format || target.Quality < source.Quality

	if !resize && !reencode {
		return data, false, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}

	if resize {
		img = resizeTo(img, target)
	}

	out, err := encode(img, target)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func resizeTo(img image.Image, p domain.CanonicalParams) image.Image {
	filter := kernelFilter(p.Kernel)

	switch p.Fit {
	case domain.FitCover:
		return imaging.Fill(img, p.Width, p.Height, anchor(p.Position), filter)
	case domain.FitContain:
		fitted := imaging.Fit(img, p.Width, p.Height, filter)
		canvas := imaging.New(p.Width, p.Height, nrgba(p.Background))
		return imaging.Paste(canvas, fitted, pastePoint(p.Position, p.Width, p.Height,
			fitted.Bounds().Dx(), fitted.Bounds().Dy()))
	default:
		// fill, inside and outside: the realized dimensions are already
		// final, a plain resize lands exactly on them.
		return imaging.Resize(img, p.Width, p.Height, filter)
	}
}

func encode(img image.Image, p domain.CanonicalParams) ([]byte, error) {
	format, err := imagingFormat(p.Format)
	if err != nil {
		return nil, err
	}

	opts := []imaging.EncodeOption{imaging.JPEGQuality(p.Quality)}
	switch o := p.Encoder.(type) {
	case domain.PNGOptions:
		opts = append(opts, imaging.PNGCompressionLevel(pngLevel(o.Compression)))
	case domain.GIFOptions:
		opts = append(opts, imaging.GIFNumColors(o.Colors))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", p.Format, err)
	}
	return buf.Bytes(), nil
}

func imagingFormat(f domain.Format) (imaging.Format, error) {
	switch f {
	case domain.FormatJPEG:
		return imaging.JPEG, nil
	case domain.FormatPNG:
		return imaging.PNG, nil
	case domain.FormatGIF:
		return imaging.GIF, nil
	case domain.FormatTIFF:
		return imaging.TIFF, nil
	case domain.FormatBMP:
		return imaging.BMP, nil
	}
	return 0, fmt.Errorf("unsupported output format %q", f)
}

func kernelFilter(k domain.Kernel) imaging.ResampleFilter {
	switch k {
	case domain.KernelNearest:
		return imaging.NearestNeighbor
	case domain.KernelLinear:
		return imaging.Linear
	case domain.KernelCubic:
		return imaging.CatmullRom
	case domain.KernelMitchell:
		return imaging.MitchellNetravali
	default:
		// lanczos2 and lanczos3 share the Lanczos filter.
		return imaging.Lanczos
	}
}

func anchor(p domain.Position) imaging.Anchor {
	switch p {
	case domain.PositionNorth:
		return imaging.Top
	case domain.PositionNortheast:
		return imaging.TopRight
	case domain.PositionEast:
		return imaging.Right
	case domain.PositionSoutheast:
		return imaging.BottomRight
	case domain.PositionSouth:
		return imaging.Bottom
	case domain.PositionSouthwest:
		return imaging.BottomLeft
	case domain.PositionWest:
		return imaging.Left
	case domain.PositionNorthwest:
		return imaging.TopLeft
	default:
		return imaging.Center
	}
}

// pastePoint anchors the letterboxed image on the contain canvas.
func pastePoint(pos domain.Position, canvasW, canvasH, w, h int) image.Point {
	cx := (canvasW - w) / 2
	cy := (canvasH - h) / 2

	switch pos {
	case domain.PositionNorth:
		return image.Pt(cx, 0)
	case domain.PositionNortheast:
		return image.Pt(canvasW-w, 0)
	case domain.PositionEast:
		return image.Pt(canvasW-w, cy)
	case domain.PositionSoutheast:
		return image.Pt(canvasW-w, canvasH-h)
	case domain.PositionSouth:
		return image.Pt(cx, canvasH-h)
	case domain.PositionSouthwest:
		return image.Pt(0, canvasH-h)
	case domain.PositionWest:
		return image.Pt(0, cy)
	case domain.PositionNorthwest:
		return image.Pt(0, 0)
	default:
		return image.Pt(cx, cy)
	}
}

func nrgba(c domain.Color) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(c.A * 255))}
}

// pngLevel maps the 0-9 request range onto the encoder's levels.
func pngLevel(compression int) png.CompressionLevel {
	switch {
	case compression == 0:
		return png.NoCompression
	case compression <= 3:
		return png.BestSpeed
	case compression <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
