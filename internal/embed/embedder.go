// Package embed turns declarations into dense vectors and serves cosine
// similarity search over them. Vector production runs asynchronously behind
// a bounded queue so ingestion is never blocked on an embedding backend;
// entities without a fresh vector are simply absent from search results
// until the indexer catches up.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"ckg/internal/entity"
	ckgerrors "ckg/internal/errors"
)

// Embedder produces a fixed-dimension vector for a piece of text. The model
// tag namespaces vectors: two vectors are only comparable when their tags
// match.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dim() int
}

// SourceText assembles the text that represents a declaration for
// embedding: qualified name, signature, and leading doc, whitespace
// collapsed, capped at maxChars.
func SourceText(e *entity.Entity, maxChars int) string {
	parts := make([]string, 0, 3)
	if e.QualifiedName != "" {
		parts = append(parts, e.QualifiedName)
	}
	if e.Signature != "" {
		parts = append(parts, e.Signature)
	}
	if e.Doc != "" {
		parts = append(parts, e.Doc)
	}
	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}

// HashEmbedder is the offline default backend: a feature-hashed bag of
// identifier tokens. It needs no model and no network, is fully
// deterministic, and identical texts always map to identical vectors, so
// exact-phrase queries rank their source first. It cannot capture synonymy;
// the HTTP backend exists for that.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Model() string {
	return "feature-hash-v1"
}

func (h *HashEmbedder) Dim() int {
	return h.dim
}

// Embed hashes each token into one of dim buckets with a hash-derived sign
// and L2-normalizes the result.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ckgerrors.New(ckgerrors.InvalidInput, "no embeddable tokens in text", nil)
	}

	vec := make([]float32, h.dim)
	for _, tok := range tokens {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec, nil
}

// tokenize lowercases and splits text on non-alphanumeric boundaries and on
// camelCase humps, dropping single-character fragments. "parseHTTPHeader"
// yields [parse, http, header].
func tokenize(text string) []string {
	var out []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		for _, part := range splitCamel(raw) {
			if len(part) < 2 {
				continue
			}
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}

func splitCamel(word string) []string {
	runes := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
		// The last capital of an acronym run starts the next word:
		// "HTTPHeader" splits before the second H.
		if i+1 < len(runes) && unicode.IsUpper(prev) && unicode.IsUpper(cur) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}
