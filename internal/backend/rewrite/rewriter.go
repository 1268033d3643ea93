// Package rewrite swaps original image references for optimized
// variants at delivery time. It feeds four injection points: direct URL
// lookup, picture-element generation, free-text content rewriting, and
// srcset candidate rewriting, plus a whole-page middleware pass.
// Every path degrades to the original reference on any doubt.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jo-hoe/gopix/internal/backend/cache"
	"github.com/jo-hoe/gopix/internal/backend/database"
	"github.com/jo-hoe/gopix/internal/backend/imageprocessing"
)

var (
	imgTagRe  = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	srcAttrRe = regexp.MustCompile(`(?i)\bsrc\s*=\s*["']([^"']+)["']`)
	// Numeric asset id embedded in the editor's class convention,
	// e.g. class="size-full gopix-image-42".
	classIDRe  = regexp.MustCompile(`\bgopix-image-(\d+)\b`)
	dataIDRe   = regexp.MustCompile(`(?i)\bdata-id\s*=\s*["'](\d+)["']`)
	srcsetAttr = regexp.MustCompile(`(?i)\bsrcset\s*=\s*["']([^"']+)["']`)
	// Matches a complete picture block so content passes never descend
	// into markup that is already wrapped.
	pictureRe = regexp.MustCompile(`(?is)<picture\b[^>]*>.*?</picture>`)
)

type Rewriter struct {
	db           database.DatabaseService
	cache        *cache.RecordCache
	mediaRoot    string
	mediaBaseURL string
	enabled      bool
}

func NewRewriter(db database.DatabaseService, recordCache *cache.RecordCache, mediaRoot, mediaBaseURL string, enabled bool) *Rewriter {
	return &Rewriter{
		db:           db,
		cache:        recordCache,
		mediaRoot:    mediaRoot,
		mediaBaseURL: strings.TrimSuffix(mediaBaseURL, "/"),
		enabled:      enabled,
	}
}

// Enabled reports whether delivery-side optimization is active at all.
func (r *Rewriter) Enabled() bool {
	return r.enabled
}

// AssetURL returns the public URL of the asset's original file.
func (r *Rewriter) AssetURL(asset *database.Asset) string {
	return r.mediaBaseURL + "/" + asset.RelPath
}

// BestURL returns the URL the client should be sent for the asset:
// the AVIF variant when the client declares AVIF support, else the WebP
// variant when declared, else the original. Variants are only offered
// after the file is confirmed to still exist.
func (r *Rewriter) BestURL(ctx context.Context, asset *database.Asset, accept ClientSupport) string {
	originalURL := r.AssetURL(asset)
	if !r.eligibleAsset(asset) || !accept.Any() {
		return originalURL
	}

	record := r.discover(ctx, asset)
	if record == nil {
		return originalURL
	}

	if accept.AVIF {
		if variantURL, ok := r.variantURL(record.AvifPath); ok {
			return variantURL
		}
	}
	if accept.WebP {
		if variantURL, ok := r.variantURL(record.WebpPath); ok {
			return variantURL
		}
	}
	return originalURL
}

// PictureElement wraps an img tag in a picture element carrying the
// available optimized sources, AVIF before WebP, with the original img
// as the final fallback. It returns the img tag unchanged when nothing
// optimized can be offered.
func (r *Rewriter) PictureElement(ctx context.Context, asset *database.Asset, imgTag string) string {
	if !r.eligibleAsset(asset) {
		return imgTag
	}
	record := r.discover(ctx, asset)
	if record == nil {
		return imgTag
	}

	var sources strings.Builder
	if variantURL, ok := r.variantURL(record.AvifPath); ok {
		fmt.Fprintf(&sources, `<source srcset="%s" type="image/avif">`, variantURL)
	}
	if variantURL, ok := r.variantURL(record.WebpPath); ok {
		fmt.Fprintf(&sources, `<source srcset="%s" type="image/webp">`, variantURL)
	}
	if sources.Len() == 0 {
		return imgTag
	}

	return "<picture>" + sources.String() + imgTag + "</picture>"
}

// ImgTag builds a plain img tag for an asset from an attribute bag.
func (r *Rewriter) ImgTag(asset *database.Asset, attrs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<img src="%s"`, r.AssetURL(asset))
	for _, key := range sortedKeys(attrs) {
		fmt.Fprintf(&b, ` %s="%s"`, key, attrs[key])
	}
	if asset.Width > 0 && asset.Height > 0 {
		fmt.Fprintf(&b, ` width="%d" height="%d"`, asset.Width, asset.Height)
	}
	b.WriteString(">")
	return b.String()
}

// RewriteContent scans an HTML fragment for img tags and wraps each one
// whose asset can be resolved in a picture element. Tags inside
// existing picture blocks, tags that already point at an optimized
// file, and tags that cannot be resolved are left untouched, which also
// makes the pass idempotent.
func (r *Rewriter) RewriteContent(ctx context.Context, html string, accept ClientSupport) string {
	if !r.enabled {
		return html
	}

	// Process only the regions outside existing picture blocks.
	var out strings.Builder
	last := 0
	for _, loc := range pictureRe.FindAllStringIndex(html, -1) {
		out.WriteString(r.rewriteImgTags(ctx, html[last:loc[0]], accept))
		out.WriteString(html[loc[0]:loc[1]])
		last = loc[1]
	}
	out.WriteString(r.rewriteImgTags(ctx, html[last:], accept))
	return out.String()
}

func (r *Rewriter) rewriteImgTags(ctx context.Context, html string, accept ClientSupport) string {
	return imgTagRe.ReplaceAllStringFunc(html, func(tag string) string {
		src := attrValue(srcAttrRe, tag)
		if src == "" || imageprocessing.IsOptimizedExt(src) {
			return tag
		}

		asset := r.resolveAsset(ctx, tag, src)
		if asset == nil {
			return tag
		}

		rewritten := tag
		if srcset := attrValue(srcsetAttr, tag); srcset != "" {
			rewritten = strings.Replace(rewritten, srcset, r.RewriteSrcset(srcset, accept), 1)
		}
		return r.PictureElement(ctx, asset, rewritten)
	})
}

// resolveAsset maps an img tag back to an asset, trying the src URL
// first, then the editor class convention, then a data-id attribute.
func (r *Rewriter) resolveAsset(ctx context.Context, tag, src string) *database.Asset {
	if fileName := r.fileNameFromURL(src); fileName != "" {
		asset, err := r.db.GetAssetByFileName(fileName)
		if err != nil {
			slog.Warn("asset lookup by file name failed", "file_name", fileName, "error", err)
		} else if asset != nil {
			return asset
		}
	}

	for _, re := range []*regexp.Regexp{classIDRe, dataIDRe} {
		if match := re.FindStringSubmatch(tag); match != nil {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil {
				continue
			}
			asset, err := r.db.GetAssetByID(id)
			if err != nil {
				slog.Warn("asset lookup by id failed", "asset_id", id, "error", err)
				continue
			}
			if asset != nil {
				return asset
			}
		}
	}
	return nil
}

// RewriteSrcset rewrites each candidate of a srcset list independently:
// a candidate is swapped to its optimized neighbor file when one exists
// on disk, otherwise it keeps its original URL. Partial rewriting is
// intentional.
func (r *Rewriter) RewriteSrcset(srcset string, accept ClientSupport) string {
	if !r.enabled || !accept.Any() {
		return srcset
	}

	candidates := strings.Split(srcset, ",")
	for i, candidate := range candidates {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		candidateURL := fields[0]
		if imageprocessing.IsOptimizedExt(candidateURL) {
			continue
		}

		swapped := r.bestNeighborURL(candidateURL, accept)
		if swapped == "" {
			continue
		}
		fields[0] = swapped
		prefix := ""
		if i > 0 {
			prefix = " "
		}
		candidates[i] = prefix + strings.Join(fields, " ")
	}
	return strings.Join(candidates, ",")
}

// bestNeighborURL probes the filesystem for the naming-convention
// neighbor of a URL and returns its URL, or "" when no acceptable
// variant file exists.
func (r *Rewriter) bestNeighborURL(sourceURL string, accept ClientSupport) string {
	sourcePath := r.urlToPath(sourceURL)
	if sourcePath == "" {
		return ""
	}
	if accept.AVIF {
		if _, err := os.Stat(imageprocessing.VariantPath(sourcePath, imageprocessing.FormatAvif)); err == nil {
			return imageprocessing.VariantURL(sourceURL, imageprocessing.FormatAvif)
		}
	}
	if accept.WebP {
		if _, err := os.Stat(imageprocessing.VariantPath(sourcePath, imageprocessing.FormatWebp)); err == nil {
			return imageprocessing.VariantURL(sourceURL, imageprocessing.FormatWebp)
		}
	}
	return ""
}

// discover finds the conversion outcome for an asset through three
// tiers: the relational record, the conversion-time cache entry, and
// finally a direct probe for naming-convention neighbor files. The
// probe exists because the record store can be stale or the variant may
// have been produced by an earlier deployment.
func (r *Rewriter) discover(ctx context.Context, asset *database.Asset) *database.ConversionRecord {
	record, err := r.db.GetConversionByAssetID(asset.ID)
	if err != nil {
		slog.Warn("conversion record lookup failed", "asset_id", asset.ID, "error", err)
	}
	if record != nil && record.Status == database.StatusCompleted && record.HasVariant() {
		return record
	}

	if cached := r.cache.Get(ctx, asset.ID); cached != nil &&
		cached.Status == database.StatusCompleted && cached.HasVariant() {
		return cached
	}

	return r.probeNeighbors(asset)
}

// probeNeighbors constructs a best-effort record from variant files
// sitting beside the original, the last discovery tier.
func (r *Rewriter) probeNeighbors(asset *database.Asset) *database.ConversionRecord {
	sourcePath := filepath.Join(r.mediaRoot, filepath.FromSlash(asset.RelPath))
	record := &database.ConversionRecord{
		AssetID: asset.ID,
		Status:  database.StatusCompleted,
	}

	for _, format := range []imageprocessing.Format{imageprocessing.FormatAvif, imageprocessing.FormatWebp} {
		variantPath := imageprocessing.VariantPath(sourcePath, format)
		info, err := os.Stat(variantPath)
		if err != nil {
			continue
		}
		relPath, err := filepath.Rel(r.mediaRoot, variantPath)
		if err != nil {
			continue
		}
		rel := filepath.ToSlash(relPath)
		size := info.Size()
		switch format {
		case imageprocessing.FormatAvif:
			record.AvifPath = &rel
			record.AvifSize = &size
		case imageprocessing.FormatWebp:
			record.WebpPath = &rel
			record.WebpSize = &size
		}
	}

	if !record.HasVariant() {
		return nil
	}
	return record
}

// variantURL maps a recorded variant path to its public URL after
// confirming the file still exists; records are not trusted alone.
func (r *Rewriter) variantURL(relPath *string) (string, bool) {
	if relPath == nil || *relPath == "" {
		return "", false
	}
	fullPath := filepath.Join(r.mediaRoot, filepath.FromSlash(*relPath))
	if _, err := os.Stat(fullPath); err != nil {
		return "", false
	}
	return r.mediaBaseURL + "/" + *relPath, true
}

func (r *Rewriter) eligibleAsset(asset *database.Asset) bool {
	return r.enabled && asset != nil && imageprocessing.IsConvertibleMIME(asset.Mime)
}

// urlToPath maps a public media URL to its location under the media
// root; URLs outside the media base are not ours to rewrite.
func (r *Rewriter) urlToPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	urlPath := parsed.Path
	if !strings.HasPrefix(urlPath, r.mediaBaseURL+"/") {
		return ""
	}
	rel := strings.TrimPrefix(urlPath, r.mediaBaseURL+"/")
	return filepath.Join(r.mediaRoot, filepath.FromSlash(rel))
}

// fileNameFromURL extracts the file name of a media URL for database
// resolution; non-media URLs resolve to "".
func (r *Rewriter) fileNameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(parsed.Path, r.mediaBaseURL+"/") {
		return ""
	}
	return path.Base(parsed.Path)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func attrValue(re *regexp.Regexp, tag string) string {
	if match := re.FindStringSubmatch(tag); match != nil {
		return match[1]
	}
	return ""
}
