package domain

import "math"

// Realize computes the output dimensions a derivation will produce for
// the requested parameters against a source of srcW x srcH pixels.
// Upscaling is never performed: every axis is clamped at the source
// dimension before the fit mode is applied, so the service never
// fabricates detail. The result is fully determined by key metadata;
// no pixel data is needed.
func Realize(srcW, srcH int, p CanonicalParams) (int, int) {
	w, h := p.Width, p.Height

	switch {
	case w == 0 && h == 0:
		return srcW, srcH
	case h == 0:
		if w >= srcW {
			return srcW, srcH
		}
		return w, scaled(srcH, float64(w)/float64(srcW))
	case w == 0:
		if h >= srcH {
			return srcW, srcH
		}
		return scaled(srcW, float64(h)/float64(srcH)), h
	}

	if w > srcW {
		w = srcW
	}
	if h > srcH {
		h = srcH
	}

	switch p.Fit {
	case FitInside:
		scale := math.Min(float64(w)/float64(srcW), float64(h)/float64(srcH))
		return scaled(srcW, scale), scaled(srcH, scale)
	case FitOutside:
		scale := math.Max(float64(w)/float64(srcW), float64(h)/float64(srcH))
		return scaled(srcW, scale), scaled(srcH, scale)
	default:
		// cover crops, contain letterboxes, fill stretches; all three
		// produce exactly the (clamped) requested canvas.
		return w, h
	}
}

func scaled(dim int, scale float64) int {
	v := int(math.Round(float64(dim) * scale))
	if v < 1 {
		return 1
	}
	return v
}
