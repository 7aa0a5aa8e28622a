package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sagarc03/stowdrive"
)

type shareListResponse struct {
	Shares []stowdrive.ShareRecord `json:"shares"`
}

type thumbnailResponse struct {
	Key     string                     `json:"key"`
	Outcome stowdrive.ThumbnailOutcome `json:"outcome"`
}

func (h *Handler) handleListShares(w http.ResponseWriter, r *http.Request) {
	records, err := h.shares.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, shareListResponse{Shares: records})
}

func (h *Handler) handleGetShare(w http.ResponseWriter, r *http.Request) {
	sharekey := chi.URLParam(r, "sharekey")

	share, err := h.shares.Get(r.Context(), sharekey)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, stowdrive.ShareRecord{ShareKey: sharekey, Share: share})
}

func (h *Handler) handlePutShare(w http.ResponseWriter, r *http.Request) {
	sharekey := chi.URLParam(r, "sharekey")

	var share stowdrive.ShareObject
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&share); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Invalid share body")
		return
	}

	if err := h.shares.Put(r.Context(), sharekey, share); err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, stowdrive.ShareRecord{ShareKey: sharekey, Share: share})
}

func (h *Handler) handleDeleteShare(w http.ResponseWriter, r *http.Request) {
	if err := h.shares.Delete(r.Context(), chi.URLParam(r, "sharekey")); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func forceParam(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}

// handleGenerateThumbnail generates the thumbnail of one object.
func (h *Handler) handleGenerateThumbnail(w http.ResponseWriter, r *http.Request) {
	if h.thumbnails == nil {
		WriteError(w, http.StatusNotFound, "thumbnails_disabled", "Thumbnail generation is disabled")
		return
	}

	// the decoded path, since chi matches on the raw path when one is set
	key := stowdrive.NormalizeKey(strings.TrimPrefix(r.URL.Path, "/api/thumbnails"))
	if key == "" || !stowdrive.IsValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid path")
		return
	}

	outcome, err := h.thumbnails.Generate(r.Context(), key, forceParam(r))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, thumbnailResponse{Key: key, Outcome: outcome})
}

// handleGenerateThumbnails runs a batch over ?prefix=.
func (h *Handler) handleGenerateThumbnails(w http.ResponseWriter, r *http.Request) {
	if h.thumbnails == nil {
		WriteError(w, http.StatusNotFound, "thumbnails_disabled", "Thumbnail generation is disabled")
		return
	}

	prefix := stowdrive.NormalizeKey(r.URL.Query().Get("prefix"))
	if !stowdrive.IsValidKey(prefix) {
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid prefix")
		return
	}

	report, err := h.thumbnails.GenerateAll(r.Context(), prefix, forceParam(r))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, report)
}
