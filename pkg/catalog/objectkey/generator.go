package objectkey

import (
	"fmt"
	"strings"

	"github.com/tendant/product-catalog/pkg/catalog/hash"
)

// Generator maps a content digest to an object-store key. Implementations
// must be pure: equal digests always yield equal keys, which is what makes
// retried writes idempotent.
type Generator interface {
	GenerateKey(digest hash.Digest) string
}

// GitLikeGenerator lays blobs out git-style under a prefix:
// {prefix}/objects/ab/cdef0123...
type GitLikeGenerator struct {
	Prefix string
	// ShardLength controls how many digest characters form the shard
	// directory (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		Prefix:      "sources",
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(digest hash.Digest) string {
	shard, rest := digest.Shard(g.ShardLength)

	var parts []string
	if g.Prefix != "" {
		parts = append(parts, sanitizePathComponent(g.Prefix))
	}
	parts = append(parts, "objects")
	if shard != "" {
		parts = append(parts, shard)
	}
	parts = append(parts, rest)
	return strings.Join(parts, "/")
}

// FlatGenerator stores every blob directly under the prefix.
type FlatGenerator struct {
	Prefix string
}

func (g *FlatGenerator) GenerateKey(digest hash.Digest) string {
	if g.Prefix == "" {
		return digest.String()
	}
	return fmt.Sprintf("%s/%s", sanitizePathComponent(g.Prefix), digest)
}

// CustomFuncGenerator allows callers to provide their own key layout
type CustomFuncGenerator struct {
	GenerateFunc func(digest hash.Digest) string
}

func (g *CustomFuncGenerator) GenerateKey(digest hash.Digest) string {
	return g.GenerateFunc(digest)
}

// ForDigest returns the key used by the recommended layout.
func ForDigest(digest hash.Digest) string {
	return NewGitLikeGenerator().GenerateKey(digest)
}

// SanitizeFilename strips directory components and characters that break
// object names or filesystem paths.
func SanitizeFilename(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	replacer := strings.NewReplacer(
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	replacer := strings.NewReplacer(
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return strings.Trim(strings.ToLower(replacer.Replace(component)), "/")
}
