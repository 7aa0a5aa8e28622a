package http

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sagarc03/stowdrive"
)

func (h *Handler) handleMkcol(w http.ResponseWriter, r *http.Request, key string) {
	if err := h.drive.Mkcol(r.Context(), key); err != nil {
		HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// setObjectHeaders writes the representation headers shared by GET and HEAD.
func setObjectHeaders(w http.ResponseWriter, obj stowdrive.StoredObject) {
	hdr := w.Header()

	contentType := obj.HTTPMetadata.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)

	if obj.HTTPMetadata.ContentDisposition != "" {
		hdr.Set("Content-Disposition", obj.HTTPMetadata.ContentDisposition)
	}
	if obj.HTTPMetadata.ContentLanguage != "" {
		hdr.Set("Content-Language", obj.HTTPMetadata.ContentLanguage)
	}
	if obj.ETag != "" {
		hdr.Set("ETag", stowdrive.QuoteETag(obj.ETag))
	}
	if !obj.UploadedAt.IsZero() {
		hdr.Set("Last-Modified", obj.UploadedAt.UTC().Format(http.TimeFormat))
	}
	if digest := obj.Thumbnail(); digest != "" {
		hdr.Set(HeaderThumbnail, digest)
	}
	if !obj.IsDir() {
		hdr.Set("Accept-Ranges", "bytes")
	}
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request, key string) {
	obj, err := h.drive.Head(r.Context(), key, stowdrive.ConditionsFromHeader(r.Header))
	if err != nil {
		HandleError(w, err)
		return
	}

	setObjectHeaders(w, obj)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	h.serveObject(w, r, key, HandleError)
}

// serveObject answers a conditional, optionally ranged read of key. Errors
// before the first byte go to onError.
func (h *Handler) serveObject(w http.ResponseWriter, r *http.Request, key string, onError func(http.ResponseWriter, error)) {
	rng, err := stowdrive.ParseRange(r.Header.Get("Range"))
	if err != nil {
		onError(w, err)
		return
	}

	body, err := h.drive.Get(r.Context(), key, stowdrive.GetOptions{
		Range:  rng,
		OnlyIf: stowdrive.ConditionsFromHeader(r.Header),
	})
	if err != nil {
		onError(w, err)
		return
	}
	defer func() { _ = body.Body.Close() }()

	setObjectHeaders(w, body.StoredObject)

	status := http.StatusOK
	length := body.Size
	if body.Range != nil {
		status = http.StatusPartialContent
		length = body.Range.Length
		w.Header().Set("Content-Range", body.Range.Header(body.Size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, body.Body); err != nil {
		h.logger.Warn("write object body", "key", key, "error", err)
	}
}

// destinationKey resolves the Destination header of COPY and MOVE, which
// may be an absolute URL or a path, to a drive key under the base path.
func (h *Handler) destinationKey(r *http.Request) (string, bool) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	return h.keyFromPath(u.Path)
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request, key string, move bool) {
	dst, ok := h.destinationKey(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid_destination", "Destination must be a path under "+h.basePath)
		return
	}

	// a capability only reaches into its own scope
	if grant, ok := GrantFromContext(r.Context()); ok && grant.Method == stowdrive.AuthCapability {
		if !stowdrive.IsWithin(dst, grant.Scope) {
			HandleError(w, stowdrive.ErrForbidden)
			return
		}
	}

	depth, err := stowdrive.ParseDepth(r.Header.Get("Depth"))
	if err != nil {
		HandleError(w, err)
		return
	}

	in := stowdrive.CopyInput{
		Source:      key,
		Destination: dst,
		Overwrite:   !strings.EqualFold(strings.TrimSpace(r.Header.Get("Overwrite")), "F"),
		Depth:       depth,
	}

	var created bool
	if move {
		created, err = h.drive.Move(r.Context(), in)
	} else {
		created, err = h.drive.Copy(r.Context(), in)
	}
	if err != nil {
		HandleError(w, err)
		return
	}

	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	if uploadID := r.URL.Query().Get("uploadId"); uploadID != "" {
		err := h.drive.AbortUpload(r.Context(), stowdrive.MultipartUpload{Key: key, UploadID: uploadID})
		if err != nil {
			HandleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.drive.Delete(r.Context(), key); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
