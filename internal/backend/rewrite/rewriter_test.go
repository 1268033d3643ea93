package rewrite

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/jo-hoe/gopix/internal/backend/database"
)

var (
	acceptAll  = ClientSupport{AVIF: true, WebP: true}
	acceptWebp = ClientSupport{WebP: true}
	acceptNone = ClientSupport{}
)

type rewriteFixture struct {
	db        database.DatabaseService
	rewriter  *Rewriter
	mediaRoot string
}

func newRewriteFixture(t *testing.T) *rewriteFixture {
	t.Helper()
	db, err := database.NewDatabase("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	mediaRoot := t.TempDir()
	return &rewriteFixture{
		db:        db,
		rewriter:  NewRewriter(db, nil, mediaRoot, "/media", true),
		mediaRoot: mediaRoot,
	}
}

func (f *rewriteFixture) createAsset(t *testing.T, relPath string) *database.Asset {
	t.Helper()
	asset := &database.Asset{
		FileName: filepath.Base(relPath),
		RelPath:  relPath,
		Mime:     "image/jpeg",
		Size:     100000,
		Width:    800,
		Height:   600,
	}
	id, err := f.db.CreateAsset(asset)
	if err != nil {
		t.Fatalf("failed to create asset: %v", err)
	}
	asset.ID = id

	f.writeFile(t, relPath)
	return asset
}

func (f *rewriteFixture) writeFile(t *testing.T, relPath string) {
	t.Helper()
	fullPath := filepath.Join(f.mediaRoot, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("failed to create media directory: %v", err)
	}
	if err := os.WriteFile(fullPath, []byte("image bytes"), 0o644); err != nil {
		t.Fatalf("failed to write media file: %v", err)
	}
}

func (f *rewriteFixture) recordVariants(t *testing.T, asset *database.Asset, avifRel, webpRel string) {
	t.Helper()
	record := &database.ConversionRecord{
		AssetID:        asset.ID,
		OriginalFormat: asset.Mime,
		OriginalSize:   asset.Size,
		Status:         database.StatusCompleted,
	}
	if avifRel != "" {
		f.writeFile(t, avifRel)
		size := int64(40000)
		record.AvifPath = &avifRel
		record.AvifSize = &size
	}
	if webpRel != "" {
		f.writeFile(t, webpRel)
		size := int64(60000)
		record.WebpPath = &webpRel
		record.WebpSize = &size
	}
	if err := f.db.UpsertConversion(record); err != nil {
		t.Fatalf("failed to upsert conversion record: %v", err)
	}
}

func TestBestURLPrefersAvif(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptAll)
	if url != "/media/2026/08/sunset.avif" {
		t.Errorf("expected avif url, got %q", url)
	}
}

func TestBestURLFallsBackToWebp(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptWebp)
	if url != "/media/2026/08/sunset.webp" {
		t.Errorf("expected webp url, got %q", url)
	}
}

func TestBestURLWithoutAcceptedFormats(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptNone)
	if url != "/media/2026/08/sunset.jpg" {
		t.Errorf("expected original url, got %q", url)
	}
}

func TestBestURLSkipsMissingVariantFile(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	// The recorded AVIF file vanishes; delivery must not offer it.
	if err := os.Remove(filepath.Join(fixture.mediaRoot, "2026", "08", "sunset.avif")); err != nil {
		t.Fatalf("failed to remove variant: %v", err)
	}

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptAll)
	if url != "/media/2026/08/sunset.webp" {
		t.Errorf("expected webp fallback for stale record, got %q", url)
	}
}

func TestBestURLWithoutAnyRecord(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptAll)
	if url != "/media/2026/08/sunset.jpg" {
		t.Errorf("expected original url without conversions, got %q", url)
	}
}

func TestBestURLIgnoresIneligibleMime(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/anim.gif")
	asset.Mime = "image/gif"

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptAll)
	if url != "/media/2026/08/anim.gif" {
		t.Errorf("expected original url for gif, got %q", url)
	}
}

func TestDiscoverProbesNeighborFiles(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")

	// No record in the store, but a variant file exists beside the
	// original (e.g. produced before the store was introduced).
	fixture.writeFile(t, "2026/08/sunset.webp")

	url := fixture.rewriter.BestURL(context.Background(), asset, acceptAll)
	if url != "/media/2026/08/sunset.webp" {
		t.Errorf("expected neighbor probe to find webp, got %q", url)
	}
}

func TestPictureElementListsAvifBeforeWebp(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	imgTag := `<img src="/media/2026/08/sunset.jpg" alt="sunset">`
	markup := fixture.rewriter.PictureElement(context.Background(), asset, imgTag)

	if !strings.HasPrefix(markup, "<picture>") || !strings.HasSuffix(markup, "</picture>") {
		t.Fatalf("expected picture wrapper, got %q", markup)
	}
	avifIdx := strings.Index(markup, `type="image/avif"`)
	webpIdx := strings.Index(markup, `type="image/webp"`)
	if avifIdx < 0 || webpIdx < 0 {
		t.Fatalf("expected both sources, got %q", markup)
	}
	if avifIdx > webpIdx {
		t.Error("avif source must come before webp source")
	}
	if !strings.Contains(markup, imgTag) {
		t.Error("original img tag must remain as fallback")
	}
}

func TestPictureElementWithoutVariantsReturnsImgTag(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")

	imgTag := `<img src="/media/2026/08/sunset.jpg">`
	if markup := fixture.rewriter.PictureElement(context.Background(), asset, imgTag); markup != imgTag {
		t.Errorf("expected unchanged img tag, got %q", markup)
	}
}

func TestImgTagIncludesDimensionsAndAttrs(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")

	tag := fixture.rewriter.ImgTag(asset, map[string]string{"alt": "sunset", "loading": "lazy"})
	for _, want := range []string{
		`src="/media/2026/08/sunset.jpg"`,
		`alt="sunset"`,
		`loading="lazy"`,
		`width="800"`,
		`height="600"`,
	} {
		if !strings.Contains(tag, want) {
			t.Errorf("expected %s in %q", want, tag)
		}
	}
}

func TestRewriteContentWrapsResolvableImages(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "")

	html := `<p>Intro</p><img src="/media/2026/08/sunset.jpg" alt="x"><p>Outro</p>`
	rewritten := fixture.rewriter.RewriteContent(context.Background(), html, acceptAll)

	if !strings.Contains(rewritten, `<picture><source srcset="/media/2026/08/sunset.avif" type="image/avif">`) {
		t.Errorf("expected picture wrapper with avif source, got %q", rewritten)
	}
	if !strings.Contains(rewritten, "<p>Intro</p>") || !strings.Contains(rewritten, "<p>Outro</p>") {
		t.Error("surrounding content must be preserved")
	}
}

func TestRewriteContentIsIdempotent(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	html := `<img src="/media/2026/08/sunset.jpg">`
	once := fixture.rewriter.RewriteContent(context.Background(), html, acceptAll)
	twice := fixture.rewriter.RewriteContent(context.Background(), once, acceptAll)

	if once != twice {
		t.Errorf("second pass changed output:\nfirst:  %q\nsecond: %q", once, twice)
	}
	if strings.Count(twice, "<picture>") != 1 {
		t.Errorf("expected exactly one picture wrapper, got %q", twice)
	}
}

func TestRewriteContentSkipsForeignAndOptimizedSources(t *testing.T) {
	fixture := newRewriteFixture(t)

	html := `<img src="https://elsewhere.example/pic.jpg"><img src="/media/2026/08/x.webp">`
	if rewritten := fixture.rewriter.RewriteContent(context.Background(), html, acceptAll); rewritten != html {
		t.Errorf("expected unresolvable tags untouched, got %q", rewritten)
	}
}

func TestResolveAssetByClassConvention(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "")

	// The src file name does not match any asset; the class id does.
	html := `<img class="size-full gopix-image-` + itoa(asset.ID) + `" src="/media/moved/renamed.jpg">`
	rewritten := fixture.rewriter.RewriteContent(context.Background(), html, acceptAll)

	if !strings.Contains(rewritten, "<picture>") {
		t.Errorf("expected resolution via class id, got %q", rewritten)
	}
}

func TestResolveAssetByDataIDAttribute(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "", "2026/08/sunset.webp")

	html := `<img data-id="` + itoa(asset.ID) + `" src="/media/moved/renamed.jpg">`
	rewritten := fixture.rewriter.RewriteContent(context.Background(), html, acceptAll)

	if !strings.Contains(rewritten, "<picture>") {
		t.Errorf("expected resolution via data-id, got %q", rewritten)
	}
}

func TestRewriteSrcsetSwapsCandidatesIndependently(t *testing.T) {
	fixture := newRewriteFixture(t)
	fixture.writeFile(t, "2026/08/sunset.jpg")
	fixture.writeFile(t, "2026/08/sunset-768x512.jpg")
	// Canonical variant exists; it serves both the primary and the
	// derivative candidate.
	fixture.writeFile(t, "2026/08/sunset.webp")
	fixture.writeFile(t, "2026/08/other.jpg")

	srcset := "/media/2026/08/sunset.jpg 1024w, /media/2026/08/sunset-768x512.jpg 768w, /media/2026/08/other.jpg 512w"
	rewritten := fixture.rewriter.RewriteSrcset(srcset, acceptWebp)

	expected := "/media/2026/08/sunset.webp 1024w, /media/2026/08/sunset.webp 768w, /media/2026/08/other.jpg 512w"
	if rewritten != expected {
		t.Errorf("expected %q, got %q", expected, rewritten)
	}
}

func TestRewriteSrcsetWithoutAcceptIsUntouched(t *testing.T) {
	fixture := newRewriteFixture(t)
	srcset := "/media/2026/08/sunset.jpg 1024w"
	if rewritten := fixture.rewriter.RewriteSrcset(srcset, acceptNone); rewritten != srcset {
		t.Errorf("expected unchanged srcset, got %q", rewritten)
	}
}

func TestDisabledRewriterPassesEverythingThrough(t *testing.T) {
	fixture := newRewriteFixture(t)
	asset := fixture.createAsset(t, "2026/08/sunset.jpg")
	fixture.recordVariants(t, asset, "2026/08/sunset.avif", "2026/08/sunset.webp")

	disabled := NewRewriter(fixture.db, nil, fixture.mediaRoot, "/media", false)

	html := `<img src="/media/2026/08/sunset.jpg">`
	if rewritten := disabled.RewriteContent(context.Background(), html, acceptAll); rewritten != html {
		t.Errorf("disabled rewriter must not touch content, got %q", rewritten)
	}
	if url := disabled.BestURL(context.Background(), asset, acceptAll); url != "/media/2026/08/sunset.jpg" {
		t.Errorf("disabled rewriter must serve originals, got %q", url)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
