package http

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sagarc03/stowdrive"
)

func init() {
	// chi answers 405 for methods it does not know about.
	for _, v := range []stowdrive.Verb{stowdrive.VerbPropfind, stowdrive.VerbMkcol, stowdrive.VerbCopy, stowdrive.VerbMove} {
		chi.RegisterMethod(string(v))
	}
}

const (
	// HeaderThumbnail carries the sha256 digest of an uploaded thumbnail.
	HeaderThumbnail = "X-Stowdrive-Thumbnail"
	// HeaderSourceURL asks PUT to fetch the body from a remote URL.
	HeaderSourceURL = "X-Stowdrive-Source-Url"
)

// Drive is the drive behaviour the DAV handlers need.
type Drive interface {
	Propfind(ctx context.Context, key string, depth stowdrive.Depth) (stowdrive.StoredObject, iter.Seq2[stowdrive.StoredObject, error], error)
	Mkcol(ctx context.Context, key string) error
	Put(ctx context.Context, in stowdrive.PutInput) (stowdrive.StoredObject, error)
	CreateUpload(ctx context.Context, in stowdrive.CreateUploadInput) (stowdrive.MultipartUpload, error)
	UploadPart(ctx context.Context, upload stowdrive.MultipartUpload, partNumber int, body io.Reader) (stowdrive.UploadedPart, error)
	CompleteUpload(ctx context.Context, upload stowdrive.MultipartUpload, parts []stowdrive.UploadedPart) (stowdrive.StoredObject, error)
	AbortUpload(ctx context.Context, upload stowdrive.MultipartUpload) error
	Get(ctx context.Context, key string, opts stowdrive.GetOptions) (*stowdrive.ObjectBody, error)
	Head(ctx context.Context, key string, onlyIf stowdrive.Conditions) (stowdrive.StoredObject, error)
	Copy(ctx context.Context, in stowdrive.CopyInput) (bool, error)
	Move(ctx context.Context, in stowdrive.CopyInput) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Shares manages the public share registry.
type Shares interface {
	List(ctx context.Context, prefix string) ([]stowdrive.ShareRecord, error)
	Put(ctx context.Context, sharekey string, share stowdrive.ShareObject) error
	Delete(ctx context.Context, sharekey string) error
	Get(ctx context.Context, sharekey string) (stowdrive.ShareObject, error)
}

// Thumbnails triggers thumbnail generation.
type Thumbnails interface {
	Generate(ctx context.Context, key string, force bool) (stowdrive.ThumbnailOutcome, error)
	GenerateAll(ctx context.Context, prefix string, force bool) (stowdrive.ThumbnailReport, error)
}

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	// BasePath is where the drive is served (default: /dav)
	BasePath string
	// SharePath is where public shares are served (default: /s)
	SharePath string
	// MaxUploadSize caps request bodies of PUT. Zero means unlimited.
	MaxUploadSize int64
	Signer        *stowdrive.Signer
	CORS          CORSConfig
	Logger        *slog.Logger
}

// Handler serves the drive protocol, the share and thumbnail API and
// public shares.
type Handler struct {
	config     HandlerConfig
	basePath   string
	sharePath  string
	drive      Drive
	shares     Shares
	thumbnails Thumbnails
	shareCORS  *cors.Cors
	logger     *slog.Logger
}

// NewHandler creates a Handler. thumbnails may be nil when thumbnail
// generation is disabled.
func NewHandler(config *HandlerConfig, drive Drive, shares Shares, thumbnails Thumbnails) *Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		config:     *config,
		basePath:   cleanMountPath(config.BasePath, "/dav"),
		sharePath:  cleanMountPath(config.SharePath, "/s"),
		drive:      drive,
		shares:     shares,
		thumbnails: thumbnails,
		shareCORS: cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
			AllowedHeaders: []string{"Range", "If-Match", "If-None-Match", "If-Modified-Since"},
			ExposedHeaders: []string{"Content-Length", "Content-Range", "ETag", "Last-Modified"},
			MaxAge:         300,
		}),
		logger: logger,
	}
}

func cleanMountPath(p, fallback string) string {
	if p == "" {
		p = fallback
	}
	return "/" + strings.Trim(p, "/")
}

// Router returns an http.Handler with all routes configured.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.logger))

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.Signer))

		r.Get("/shares", h.handleListShares)
		r.Get("/shares/{sharekey}", h.handleGetShare)
		r.With(RequireFullControl).Put("/shares/{sharekey}", h.handlePutShare)
		r.With(RequireFullControl).Delete("/shares/{sharekey}", h.handleDeleteShare)

		r.With(RequireFullControl).Post("/thumbnails", h.handleGenerateThumbnails)
		r.With(RequireFullControl).Post("/thumbnails/*", h.handleGenerateThumbnail)
	})

	r.Route(h.sharePath, func(r chi.Router) {
		r.Get("/{sharekey}", h.serveShare)
		r.Head("/{sharekey}", h.serveShare)
		r.Get("/{sharekey}/*", h.serveShare)
		r.Head("/{sharekey}/*", h.serveShare)
	})

	dav := AuthMiddleware(h.config.Signer)(http.HandlerFunc(h.serveDAV))
	if h.basePath == "/" {
		r.Handle("/*", dav)
	} else {
		r.Handle(h.basePath, dav)
		r.Handle(h.basePath+"/*", dav)
	}

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// keyFromPath maps a request path below the base path to a drive key.
func (h *Handler) keyFromPath(path string) (string, bool) {
	rel := path
	if h.basePath != "/" {
		if path != h.basePath && !strings.HasPrefix(path, h.basePath+"/") {
			return "", false
		}
		rel = strings.TrimPrefix(path, h.basePath)
	}

	key := stowdrive.NormalizeKey(rel)
	return key, stowdrive.IsValidKey(key)
}

// href returns the escaped URL path of key, with a trailing slash for
// directories.
func (h *Handler) href(key string, dir bool) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(h.basePath, "/"))
	b.WriteByte('/')
	b.WriteString(stowdrive.EscapeKey(key))
	if dir && key != "" {
		b.WriteByte('/')
	}
	return b.String()
}

// serveDAV dispatches the closed set of drive verbs.
func (h *Handler) serveDAV(w http.ResponseWriter, r *http.Request) {
	verb, err := stowdrive.ParseVerb(r.Method)
	if err != nil {
		w.Header().Set("Allow", allowHeader())
		HandleError(w, err)
		return
	}

	key, ok := h.keyFromPath(r.URL.Path)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid path")
		return
	}

	switch verb {
	case stowdrive.VerbPropfind:
		h.handlePropfind(w, r, key)
	case stowdrive.VerbMkcol:
		h.handleMkcol(w, r, key)
	case stowdrive.VerbHead:
		h.handleHead(w, r, key)
	case stowdrive.VerbGet:
		h.handleGet(w, r, key)
	case stowdrive.VerbPost:
		h.handlePost(w, r, key)
	case stowdrive.VerbPut:
		h.handlePut(w, r, key)
	case stowdrive.VerbCopy:
		h.handleCopy(w, r, key, false)
	case stowdrive.VerbMove:
		h.handleCopy(w, r, key, true)
	case stowdrive.VerbDelete:
		h.handleDelete(w, r, key)
	case stowdrive.VerbOptions:
		h.handleOptions(w, r)
	}
}

func allowHeader() string {
	verbs := make([]string, len(stowdrive.Verbs))
	for i, v := range stowdrive.Verbs {
		verbs[i] = string(v)
	}
	return strings.Join(verbs, ", ")
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", allowHeader())
	w.Header().Set("DAV", "1")
	w.Header().Set("MS-Author-Via", "DAV")
	w.WriteHeader(http.StatusOK)
}
