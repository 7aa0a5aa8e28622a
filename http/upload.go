package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sagarc03/stowdrive"
)

type partResponse struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type completeRequest struct {
	Parts []stowdrive.UploadedPart `json:"parts"`
}

type completeResponse struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
}

func httpMetadataFromHeader(h http.Header) stowdrive.HTTPMetadata {
	return stowdrive.HTTPMetadata{
		ContentType:        h.Get("Content-Type"),
		ContentDisposition: h.Get("Content-Disposition"),
		ContentLanguage:    h.Get("Content-Language"),
	}
}

func (h *Handler) requestBody(w http.ResponseWriter, r *http.Request) io.Reader {
	if h.config.MaxUploadSize > 0 {
		return http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	}
	return r.Body
}

// handlePut stores a whole object, or one part of a multipart upload when
// uploadId and partNumber are present.
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	query := r.URL.Query()
	if query.Has("uploadId") || query.Has("partNumber") {
		h.handleUploadPart(w, r, key)
		return
	}

	obj, err := h.drive.Put(r.Context(), stowdrive.PutInput{
		Key:          key,
		Body:         h.requestBody(w, r),
		HTTPMetadata: httpMetadataFromHeader(r.Header),
		Thumbnail:    r.Header.Get(HeaderThumbnail),
		SourceURL:    r.Header.Get(HeaderSourceURL),
		OnlyIf:       stowdrive.ConditionsFromHeader(r.Header),
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("ETag", stowdrive.QuoteETag(obj.ETag))
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleUploadPart(w http.ResponseWriter, r *http.Request, key string) {
	query := r.URL.Query()

	partNumber, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_part", "partNumber must be an integer")
		return
	}

	upload := stowdrive.MultipartUpload{Key: key, UploadID: query.Get("uploadId")}

	part, err := h.drive.UploadPart(r.Context(), upload, partNumber, h.requestBody(w, r))
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("ETag", stowdrive.QuoteETag(part.ETag))
	_ = WriteJSON(w, http.StatusOK, partResponse{PartNumber: part.PartNumber, ETag: part.ETag})
}

// handlePost creates (?uploads) or completes (?uploadId=) a multipart upload.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request, key string) {
	query := r.URL.Query()

	switch {
	case query.Has("uploads"):
		h.handleCreateUpload(w, r, key)
	case query.Get("uploadId") != "":
		h.handleCompleteUpload(w, r, key, query.Get("uploadId"))
	default:
		WriteError(w, http.StatusBadRequest, "invalid_request", "POST requires uploads or uploadId")
	}
}

func (h *Handler) handleCreateUpload(w http.ResponseWriter, r *http.Request, key string) {
	upload, err := h.drive.CreateUpload(r.Context(), stowdrive.CreateUploadInput{
		Key:          key,
		HTTPMetadata: httpMetadataFromHeader(r.Header),
		Thumbnail:    r.Header.Get(HeaderThumbnail),
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, upload)
}

// handleCompleteUpload answers 400 with the store's message when assembly
// fails, so clients can show why.
func (h *Handler) handleCompleteUpload(w http.ResponseWriter, r *http.Request, key, uploadID string) {
	var req completeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}

	obj, err := h.drive.CompleteUpload(r.Context(), stowdrive.MultipartUpload{Key: key, UploadID: uploadID}, req.Parts)
	if err != nil {
		if errors.Is(err, context.Canceled) || StatusFor(err) >= http.StatusInternalServerError {
			HandleError(w, err)
			return
		}
		h.logger.Debug("complete upload failed", "key", key, "error", err)
		WriteError(w, http.StatusBadRequest, "complete_failed", err.Error())
		return
	}

	w.Header().Set("ETag", stowdrive.QuoteETag(obj.ETag))
	_ = WriteJSON(w, http.StatusOK, completeResponse{Key: obj.Key, ETag: obj.ETag})
}
