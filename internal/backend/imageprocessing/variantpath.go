package imageprocessing

import (
	"path/filepath"
	"regexp"
	"strings"
)

// derivativeSuffix matches the size suffixes an upstream platform
// appends to derivative files: "-scaled" on downscaled primaries and
// "-<width>x<height>" on generated thumbnails. Variants are always
// named after the canonical asset so that one optimized file serves
// every derivative of the same source.
var derivativeSuffix = regexp.MustCompile(`-(scaled|\d+x\d+)$`)

// CanonicalStem returns the base file name without extension and
// without derivative suffixes.
func CanonicalStem(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return derivativeSuffix.ReplaceAllString(stem, "")
}

// VariantPath derives the on-disk location of an optimized variant for
// the given source file. This is the single naming contract shared by
// the converter (which writes variants) and the delivery rewriter
// (which probes for them); the two sides must never diverge.
func VariantPath(sourcePath string, format Format) string {
	dir := filepath.Dir(sourcePath)
	return filepath.Join(dir, CanonicalStem(sourcePath)+format.Ext())
}

// VariantURL is VariantPath for URLs: same directory, canonical stem,
// extension swapped. It operates on forward-slash paths regardless of
// the host OS.
func VariantURL(sourceURL string, format Format) string {
	slash := strings.LastIndex(sourceURL, "/")
	dir, base := "", sourceURL
	if slash >= 0 {
		dir, base = sourceURL[:slash+1], sourceURL[slash+1:]
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = derivativeSuffix.ReplaceAllString(stem, "")
	return dir + stem + format.Ext()
}
