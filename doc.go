// Package stowdrive exposes a flat object store as a hierarchical drive.
//
// Directories are zero-length marker objects, listings are derived from
// delimiter queries, and every write checks that its parent directory exists.
// On top of that the package provides capability URLs signed with a shared
// secret, a content-addressed thumbnail cache and a registry of public shares.
//
// # Key Components
//
//   - ObjectStore: flat key/value blob store (filesystem, S3)
//   - PathModel: directory semantics over ObjectStore
//   - DriveService: WebDAV verb semantics (PROPFIND, MKCOL, COPY, MOVE, ...)
//   - Signer: direct credential and signed capability verification
//   - ThumbnailPipeline: resize, store and link preview images
//   - ShareRegistry: public share records with referer and credential rules
//
// # Example Usage
//
//	drive, err := stowdrive.NewDriveService(stowdrive.DriveConfig{Store: store})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := drive.Mkcol(ctx, "photos"); err != nil {
//	    log.Fatal(err)
//	}
//
//	for obj, err := range drive.Paths().Children(ctx, "photos", stowdrive.DepthOne) {
//	    ...
//	}
//
// See the http package for the protocol handlers and the filesystem and
// s3store packages for ObjectStore implementations.
package stowdrive
