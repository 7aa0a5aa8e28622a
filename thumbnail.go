package stowdrive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ThumbnailOutcome is the result of a thumbnail generation attempt.
type ThumbnailOutcome string

const (
	ThumbnailMissing    ThumbnailOutcome = "missing"
	ThumbnailNotImage   ThumbnailOutcome = "not-image"
	ThumbnailExists     ThumbnailOutcome = "exists"
	ThumbnailNotResized ThumbnailOutcome = "not-resized"
	ThumbnailNotSmaller ThumbnailOutcome = "not-smaller"
	ThumbnailUnchanged  ThumbnailOutcome = "unchanged"
	ThumbnailGenerated  ThumbnailOutcome = "generated"
)

const FitScaleDown = "scale-down"

type ResizeOptions struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Fit    string `json:"fit,omitempty"`
}

// ResizeResult is the resizer's answer. Resized is false when the resizer
// passed the source through instead of transforming it.
type ResizeResult struct {
	Body        []byte
	ContentType string
	Resized     bool
}

// Resizer produces a resized rendition of the image at sourceURL.
type Resizer interface {
	Resize(ctx context.Context, sourceURL string, opts ResizeOptions) (ResizeResult, error)
}

type ThumbnailConfig struct {
	Store   ObjectStore
	Resizer Resizer
	// SourceBaseURL is the public URL of the store. When empty the resizer
	// fetches sources through short-lived signed gateway URLs.
	SourceBaseURL string
	// GatewayURL is the origin the resizer uses to reach the gateway.
	GatewayURL string
	Signer     *Signer
	// SignedURLTTL bounds signed source URLs (default: 5m)
	SignedURLTTL time.Duration
	Width        int
	Height       int
	// Concurrency bounds GenerateAll (default: 2)
	Concurrency int
	PageSize    int
	Logger      *slog.Logger
}

// ThumbnailPipeline generates content-addressed thumbnails and links them
// to their source objects through the thumbnail custom metadata entry.
type ThumbnailPipeline struct {
	store         ObjectStore
	paths         *PathModel
	resizer       Resizer
	sourceBaseURL string
	gatewayURL    string
	signer        *Signer
	signedURLTTL  time.Duration
	opts          ResizeOptions
	concurrency   int
	logger        *slog.Logger
}

func NewThumbnailPipeline(cfg ThumbnailConfig) (*ThumbnailPipeline, error) {
	if cfg.Store == nil || cfg.Resizer == nil {
		return nil, fmt.Errorf("new thumbnail pipeline: %w: store and resizer are required", ErrInvalidInput)
	}
	if cfg.SourceBaseURL == "" && (cfg.Signer == nil || cfg.GatewayURL == "") {
		return nil, fmt.Errorf("new thumbnail pipeline: %w: source base url or signer with gateway url required", ErrInvalidInput)
	}
	if cfg.Width <= 0 && cfg.Height <= 0 {
		return nil, fmt.Errorf("new thumbnail pipeline: %w: width or height required", ErrInvalidInput)
	}

	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ThumbnailPipeline{
		store:         cfg.Store,
		paths:         NewPathModel(cfg.Store, cfg.PageSize),
		resizer:       cfg.Resizer,
		sourceBaseURL: strings.TrimSuffix(cfg.SourceBaseURL, "/"),
		gatewayURL:    strings.TrimSuffix(cfg.GatewayURL, "/"),
		signer:        cfg.Signer,
		signedURLTTL:  ttl,
		opts:          ResizeOptions{Width: cfg.Width, Height: cfg.Height, Fit: FitScaleDown},
		concurrency:   concurrency,
		logger:        logger,
	}, nil
}

// Generate creates the thumbnail of the image at key.
//
// With force unset an object that already references a thumbnail is left
// alone. A new thumbnail is kept only when the resizer confirms it resized
// the image and the result is strictly smaller than the source. The source
// is then rewritten with the new digest and the previous thumbnail is
// deleted.
func (p *ThumbnailPipeline) Generate(ctx context.Context, key string, force bool) (ThumbnailOutcome, error) {
	obj, err := p.store.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return ThumbnailMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("generate thumbnail %s: %w", key, err)
	}

	if !strings.HasPrefix(obj.HTTPMetadata.ContentType, "image/") {
		return ThumbnailNotImage, nil
	}

	if obj.Thumbnail() != "" && !force {
		return ThumbnailExists, nil
	}

	source, err := p.sourceURL(key)
	if err != nil {
		return "", fmt.Errorf("generate thumbnail %s: %w", key, err)
	}

	res, err := p.resizer.Resize(ctx, source, p.opts)
	if err != nil {
		return "", fmt.Errorf("generate thumbnail %s: %w", key, err)
	}

	if !res.Resized {
		return ThumbnailNotResized, nil
	}

	if int64(len(res.Body)) >= obj.Size {
		return ThumbnailNotSmaller, nil
	}

	sum := sha256.Sum256(res.Body)
	digest := hex.EncodeToString(sum[:])

	contentType := res.ContentType
	if contentType == "" {
		contentType = obj.HTTPMetadata.ContentType
	}

	_, err = p.store.Put(ctx, ThumbnailKey(digest), bytes.NewReader(res.Body), PutOptions{
		HTTPMetadata: HTTPMetadata{ContentType: contentType},
	})
	if err != nil {
		return "", fmt.Errorf("generate thumbnail %s: store thumbnail: %w", key, err)
	}

	if digest == obj.Thumbnail() {
		return ThumbnailUnchanged, nil
	}

	if err := p.link(ctx, obj, digest); err != nil {
		return "", fmt.Errorf("generate thumbnail %s: %w", key, err)
	}

	if old := obj.Thumbnail(); old != "" {
		if err := p.store.Delete(context.WithoutCancel(ctx), ThumbnailKey(old)); err != nil {
			p.logger.Warn("delete replaced thumbnail", "key", key, "thumbnail", old, "error", err)
		}
	}

	return ThumbnailGenerated, nil
}

// link rewrites the source object with the thumbnail digest merged into its
// custom metadata. The rewrite only applies if the source is unchanged.
func (p *ThumbnailPipeline) link(ctx context.Context, obj StoredObject, digest string) error {
	onlyIf := Conditions{IfMatch: obj.ETag}

	src, err := p.store.Get(ctx, obj.Key, GetOptions{OnlyIf: onlyIf})
	if err != nil {
		return fmt.Errorf("link thumbnail: %w", err)
	}
	defer src.Body.Close()

	linked := src.WithCustomMetadata(ThumbnailMetadataKey, digest)

	_, err = p.store.Put(ctx, obj.Key, src.Body, PutOptions{
		HTTPMetadata:   linked.HTTPMetadata,
		CustomMetadata: linked.CustomMetadata,
		OnlyIf:         onlyIf,
	})
	if err != nil {
		return fmt.Errorf("link thumbnail: %w", err)
	}

	return nil
}

func (p *ThumbnailPipeline) sourceURL(key string) (string, error) {
	if p.sourceBaseURL != "" {
		return p.sourceBaseURL + "/" + EscapeKey(key), nil
	}

	signed, err := p.signer.SignKey(key, CapabilityOptions{Scope: key, TTL: p.signedURLTTL})
	if err != nil {
		return "", fmt.Errorf("sign source url: %w", err)
	}

	return p.gatewayURL + signed, nil
}

// EscapeKey escapes each segment of key for use in a URL path.
func EscapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// ThumbnailReport tallies a GenerateAll run.
type ThumbnailReport struct {
	Outcomes map[ThumbnailOutcome]int `json:"outcomes"`
	Failed   int                      `json:"failed"`
}

// GenerateAll runs Generate for every object beneath prefix. Per-object
// failures are logged and counted; listing failures abort the run.
func (p *ThumbnailPipeline) GenerateAll(ctx context.Context, prefix string, force bool) (ThumbnailReport, error) {
	report := ThumbnailReport{Outcomes: make(map[ThumbnailOutcome]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var listErr error
	for obj, err := range p.paths.Children(gctx, NormalizeKey(prefix), DepthInfinity) {
		if err != nil {
			listErr = err
			break
		}
		if obj.IsDir() {
			continue
		}

		g.Go(func() error {
			outcome, err := p.Generate(gctx, obj.Key, force)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				p.logger.Warn("generate thumbnail", "key", obj.Key, "error", err)
				report.Failed++
				return nil
			}
			report.Outcomes[outcome]++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("generate thumbnails: %w", err)
	}
	if listErr != nil {
		return report, fmt.Errorf("generate thumbnails: %w", listErr)
	}

	return report, nil
}
