package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key layout: {prefix}{owner}/{id}_{name:value-name:value-...}.{format}
//
// Parameter names are sorted lexicographically and the output format
// rides as the extension, so two requests with the same canonical
// parameter set always produce the identical key regardless of field
// order. The layout is a persisted contract: changing the separators or
// the ordering orphans every previously cached rendition.
const (
	pairSep = "-"
	nameSep = ":"
	idSep   = "_"
	extSep  = "."
)

// Codec maps (owner, id, canonical parameters) to storage keys and
// back. The key computation is the cache index; no lookup table exists.
type Codec struct {
	// Prefix scopes every key, e.g. "cache/".
	Prefix string
}

// Encode builds the storage key for a rendition.
func (c Codec) Encode(owner, id string, p CanonicalParams) string {
	pairs := []pair{
		{"background", p.Background.String()},
		{"fit", string(p.Fit)},
		{"kernel", string(p.Kernel)},
		{"position", string(p.Position)},
		{"quality", strconv.Itoa(p.Quality)},
	}
	if p.Width > 0 {
		pairs = append(pairs, pair{"width", strconv.Itoa(p.Width)})
	}
	if p.Height > 0 {
		pairs = append(pairs, pair{"height", strconv.Itoa(p.Height)})
	}
	if p.Encoder != nil {
		pairs = append(pairs, p.Encoder.pairs()...)
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })

	items := make([]string, len(pairs))
	for i, kv := range pairs {
		items[i] = kv.name + nameSep + kv.value
	}

	return c.Prefix + owner + "/" + id + idSep +
		strings.Join(items, pairSep) + extSep + string(p.Format)
}

// OwnerIDPrefix is the key prefix under which every rendition of an id
// lives, used for listing and cascade deletes.
func (c Codec) OwnerIDPrefix(owner, id string) string {
	return c.Prefix + owner + "/" + id + idSep
}

// Decode reverses Encode. The reconstructed parameter set is passed
// back through the canonicalizer, so corrupted or hand-crafted keys
// fail with ErrInvalidKey instead of producing an invalid set.
func (c Codec) Decode(key string) (owner, id string, p CanonicalParams, err error) {
	rest, ok := strings.CutPrefix(key, c.Prefix)
	if !ok {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: missing prefix: %q", ErrInvalidKey, key)
	}

	owner, rest, ok = strings.Cut(rest, "/")
	if !ok || owner == "" {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: missing owner segment: %q", ErrInvalidKey, key)
	}

	// The extension is everything after the last dot; parameter values
	// may themselves contain dots (rgba alpha).
	dot := strings.LastIndex(rest, extSep)
	if dot < 0 {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: missing format extension: %q", ErrInvalidKey, key)
	}
	ext := rest[dot+1:]
	rest = rest[:dot]

	format, ok := ParseFormat(ext)
	if !ok {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: unknown format %q", ErrInvalidKey, ext)
	}

	id, blob, ok := strings.Cut(rest, idSep)
	if !ok || id == "" {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: missing id segment: %q", ErrInvalidKey, key)
	}

	raw := RawParams{Format: string(format), Options: map[string]string{}}
	for _, item := range strings.Split(blob, pairSep) {
		name, value, ok := strings.Cut(item, nameSep)
		if !ok {
			return "", "", CanonicalParams{}, fmt.Errorf("%w: malformed pair %q", ErrInvalidKey, item)
		}
		if err := assignPair(&raw, name, value); err != nil {
			return "", "", CanonicalParams{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	}

	p, cerr := Canonicalize(raw, format)
	if cerr != nil {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: %v", ErrInvalidKey, cerr)
	}

	// Round-trip check: a key that does not re-encode to itself is not
	// in canonical form.
	if c.Encode(owner, id, p) != key {
		return "", "", CanonicalParams{}, fmt.Errorf("%w: not in canonical form: %q", ErrInvalidKey, key)
	}

	return owner, id, p, nil
}

func assignPair(raw *RawParams, name, value string) error {
	switch name {
	case "width":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad width %q", value)
		}
		raw.Width = &v
	case "height":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad height %q", value)
		}
		raw.Height = &v
	case "quality":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad quality %q", value)
		}
		raw.Quality = &v
	case "fit":
		raw.Fit = value
	case "position":
		raw.Position = value
	case "background":
		raw.Background = value
	case "kernel":
		raw.Kernel = value
	case "compression", "colors":
		raw.Options[name] = value
	default:
		return fmt.Errorf("unknown parameter %q", name)
	}
	return nil
}
