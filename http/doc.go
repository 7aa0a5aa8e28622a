// Package http serves a stowdrive drive over HTTP.
//
// The drive protocol is a small WebDAV dialect mounted under a base path
// (default /dav). Each request path below it names a drive key.
//
// # Verbs
//
//   - PROPFIND: 207 multistatus listing of the target and, for Depth 1 or
//     infinity, its descendants
//   - MKCOL: create a directory
//   - GET, HEAD: read an object, with Range and If-* support
//   - PUT: write an object; ?uploadId=&partNumber= uploads one part
//   - POST: ?uploads starts a multipart upload, ?uploadId= completes it
//   - COPY, MOVE: Destination, Overwrite and Depth headers as in WebDAV
//   - DELETE: recursive for directories; ?uploadId= aborts an upload
//   - OPTIONS: advertises the verbs, never authenticated
//
// # Authentication
//
// AuthMiddleware accepts either the direct credential (HTTP Basic, in the
// Authorization header or the auth query parameter) or a capability URL
// signed by stowdrive.Signer:
//
//	signer := stowdrive.NewSigner(stowdrive.SignerConfig{
//	    BasePath: "/dav",
//	    Username: "alice",
//	    Password: "secret",
//	    Secret:   "hmac-secret",
//	})
//	link, _ := signer.SignKey("docs/report.pdf", stowdrive.CapabilityOptions{TTL: time.Hour})
//
// # Shares and API
//
// Public shares are served without authentication under /s/{sharekey}.
// Directory shares render an HTML listing unless noindex is set. The JSON
// API under /api manages shares and triggers thumbnail generation.
//
// # Usage
//
//	handler := http.NewHandler(&http.HandlerConfig{Signer: signer}, drive, shares, thumbnails)
//	srv := &http.Server{Addr: ":5000", Handler: handler.Router()}
//
// Errors are JSON bodies of the form {"error": code, "message": text},
// except under the share path where visitors get HTML pages.
package http
