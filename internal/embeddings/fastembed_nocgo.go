//go:build !cgo

package embeddings

import "fmt"

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// NewFastEmbedProvider fails in builds without cgo; the ONNX runtime
// backing FastEmbed requires it. Use the TEI provider instead.
func NewFastEmbedProvider(cfg FastEmbedConfig) (Provider, error) {
	return nil, fmt.Errorf("%w: fastembed requires cgo; use the tei provider", ErrInvalidConfig)
}
