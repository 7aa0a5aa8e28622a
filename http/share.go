package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sagarc03/stowdrive"
)

// shareError renders err as an HTML page; public share visitors are
// browsers rather than API clients.
func (h *Handler) shareError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("serve share", "error", err)
	}
	if errors.Is(err, stowdrive.ErrInvalidInput) {
		status = http.StatusNotFound
	}
	writeErrorPage(w, status)
}

// serveShare serves GET and HEAD under the share path. The sharekey must
// name an unexpired share; its referer policy and optional credential are
// checked before any content is read.
func (h *Handler) serveShare(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, strings.TrimSuffix(h.sharePath, "/")+"/")
	sharekey, subpath, slash := strings.Cut(rest, "/")

	share, err := h.shares.Get(r.Context(), sharekey)
	if err != nil {
		h.shareError(w, err)
		return
	}

	if !share.AllowsReferer(r.Referer(), r.Host) {
		writeErrorPage(w, http.StatusForbidden)
		return
	}

	if !share.CheckAuth(r.Header.Get("Authorization")) {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+sharekey+`", charset="UTF-8"`)
		writeErrorPage(w, http.StatusUnauthorized)
		return
	}

	content := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveShareContent(w, r, sharekey, share, subpath, slash)
	})

	if share.CORS {
		h.shareCORS.Handler(content).ServeHTTP(w, r)
		return
	}
	content.ServeHTTP(w, r)
}

func (h *Handler) serveShareContent(w http.ResponseWriter, r *http.Request, sharekey string, share stowdrive.ShareObject, subpath string, slash bool) {
	if !share.IsDirectory() {
		if slash {
			writeErrorPage(w, http.StatusNotFound)
			return
		}
		key, err := share.Resolve("")
		if err != nil {
			h.shareError(w, err)
			return
		}
		h.serveObject(w, r, key, h.shareError)
		return
	}

	// directory shares are always addressed with a trailing slash so
	// relative links in the listing resolve
	if !slash {
		redirectWithSlash(w, r)
		return
	}

	key, err := share.Resolve(subpath)
	if err != nil {
		h.shareError(w, err)
		return
	}

	if subpath == "" || strings.HasSuffix(subpath, "/") {
		h.serveShareListing(w, r, sharekey, share, key, subpath)
		return
	}

	obj, err := h.drive.Head(r.Context(), key, stowdrive.Conditions{})
	if err != nil {
		h.shareError(w, err)
		return
	}
	if obj.IsDir() {
		redirectWithSlash(w, r)
		return
	}

	h.serveObject(w, r, key, h.shareError)
}

func redirectWithSlash(w http.ResponseWriter, r *http.Request) {
	target := r.URL.EscapedPath() + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// serveShareListing renders a directory of a share. With noindex set only
// the description is shown.
func (h *Handler) serveShareListing(w http.ResponseWriter, r *http.Request, sharekey string, share stowdrive.ShareObject, key, subpath string) {
	data := pageData{
		Title:       sharekey + "/" + subpath,
		Description: share.Desc,
		NoIndex:     share.NoIndex,
	}

	if share.NoIndex {
		writeListingPage(w, r, data)
		return
	}

	dir, children, err := h.drive.Propfind(r.Context(), key, stowdrive.DepthOne)
	if err != nil {
		h.shareError(w, err)
		return
	}
	if !dir.IsDir() {
		writeErrorPage(w, http.StatusNotFound)
		return
	}

	for child, err := range children {
		if err != nil {
			h.shareError(w, err)
			return
		}

		name := stowdrive.BaseName(child.Key)
		href := stowdrive.EscapeKey(name)
		if child.IsDir() {
			href += "/"
		}

		data.Entries = append(data.Entries, pageEntry{
			Name:     name,
			Href:     href,
			Dir:      child.IsDir(),
			Size:     child.Size,
			Modified: child.UploadedAt,
		})
	}

	writeListingPage(w, r, data)
}
