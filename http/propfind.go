package http

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"time"

	"github.com/sagarc03/stowdrive"
)

const (
	nsDAV       = "DAV:"
	nsStowdrive = "https://stowdrive.dev/ns"
	nsOwnCloud  = "http://owncloud.org/ns"
)

// The element names carry their prefixes literally; encoding/xml has no
// notion of prefix declarations, so the xmlns attributes are written on the
// root element by hand.

type davResponse struct {
	XMLName  xml.Name    `xml:"d:response"`
	Href     string      `xml:"d:href"`
	Propstat davPropstat `xml:"d:propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"d:prop"`
	Status string  `xml:"d:status"`
}

type davProp struct {
	CreationDate     string           `xml:"d:creationdate,omitempty"`
	DisplayName      string           `xml:"d:displayname,omitempty"`
	GetContentLength string           `xml:"d:getcontentlength,omitempty"`
	GetContentType   string           `xml:"d:getcontenttype,omitempty"`
	GetETag          string           `xml:"d:getetag,omitempty"`
	GetLastModified  string           `xml:"d:getlastmodified,omitempty"`
	ResourceType     davResourceType  `xml:"d:resourcetype"`
	Thumbnail        string           `xml:"sd:thumbnail,omitempty"`
	Checksums        *davChecksumList `xml:"oc:checksums,omitempty"`
}

type davResourceType struct {
	Collection *struct{} `xml:"d:collection,omitempty"`
}

type davChecksumList struct {
	Checksum string `xml:"oc:checksum"`
}

func (h *Handler) propResponse(obj stowdrive.StoredObject) davResponse {
	dir := obj.IsDir()
	prop := davProp{
		DisplayName:    stowdrive.BaseName(obj.Key),
		GetContentType: obj.HTTPMetadata.ContentType,
		Thumbnail:      obj.Thumbnail(),
	}

	if !obj.UploadedAt.IsZero() {
		prop.CreationDate = obj.UploadedAt.UTC().Format(time.RFC3339)
		prop.GetLastModified = obj.UploadedAt.UTC().Format(http.TimeFormat)
	}
	if obj.ETag != "" {
		prop.GetETag = stowdrive.QuoteETag(obj.ETag)
	}

	if dir {
		prop.ResourceType.Collection = &struct{}{}
	} else {
		prop.GetContentLength = strconv.FormatInt(obj.Size, 10)
	}

	if sums := checksumList(obj.Checksums); sums != "" {
		prop.Checksums = &davChecksumList{Checksum: sums}
	}

	return davResponse{
		Href: h.href(obj.Key, dir),
		Propstat: davPropstat{
			Prop:   prop,
			Status: "HTTP/1.1 200 OK",
		},
	}
}

func checksumList(c stowdrive.Checksums) string {
	var out string
	if c.SHA256 != "" {
		out = "SHA256:" + c.SHA256
	}
	if c.MD5 != "" {
		if out != "" {
			out += " "
		}
		out += "MD5:" + c.MD5
	}
	return out
}

// handlePropfind streams a multistatus document. Only Depth 1 and infinity
// enumerate children; any other value describes the target alone.
func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, key string) {
	depth, err := stowdrive.ParseDepth(r.Header.Get("Depth"))
	if err != nil {
		depth = stowdrive.DepthZero
	}

	obj, children, err := h.drive.Propfind(r.Context(), key, depth)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)

	_, _ = w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)

	root := xml.StartElement{
		Name: xml.Name{Local: "d:multistatus"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:d"}, Value: nsDAV},
			{Name: xml.Name{Local: "xmlns:sd"}, Value: nsStowdrive},
			{Name: xml.Name{Local: "xmlns:oc"}, Value: nsOwnCloud},
		},
	}

	if err := enc.EncodeToken(root); err != nil {
		h.logger.Warn("propfind: write", "key", key, "error", err)
		return
	}

	if err := enc.Encode(h.propResponse(obj)); err != nil {
		h.logger.Warn("propfind: write", "key", key, "error", err)
		return
	}

	for child, err := range children {
		if err != nil {
			// the status line is already out; end the document early
			h.logger.Error("propfind: list children", "key", key, "error", err)
			break
		}
		if err := enc.Encode(h.propResponse(child)); err != nil {
			h.logger.Warn("propfind: write", "key", key, "error", err)
			return
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		h.logger.Warn("propfind: write", "key", key, "error", err)
		return
	}
	_ = enc.Flush()
}
