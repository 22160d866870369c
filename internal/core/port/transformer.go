package port

import "pixcache/internal/core/domain"

// ImageInfo is the metadata of a decoded image.
type ImageInfo struct {
	Width  int
	Height int
	Format domain.Format
}

// Transformer derives renditions from source bytes.
type Transformer interface {
	// Probe reports dimensions and format without a full decode.
	// Undecodable data yields domain.ErrInvalidImage.
	Probe(data []byte) (ImageInfo, error)

	// Derive produces target from the source rendition. It returns
	// changed=false, with the source bytes passed through untouched,
	// when neither a resize nor a re-encode was required; the caller
	// then skips the object store write entirely.
	Derive(data []byte, source, target domain.CanonicalParams) ([]byte, bool, error)
}
