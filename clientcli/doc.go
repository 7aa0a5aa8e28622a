// Package clientcli is a client library for stowdrive servers.
//
// It speaks the drive's WebDAV dialect: PUT (multipart above the part
// size), GET, PROPFIND listings, MKCOL, COPY, MOVE and DELETE, all with the
// direct credential. Capability URLs are minted locally from the server's
// secret without a round trip. Profiles in ~/.stowdrive/config.yaml manage
// connections to several servers.
//
// # Basic Usage
//
//	client, err := clientcli.New(&clientcli.Config{
//		Endpoint: "http://localhost:5708/dav",
//		Username: "alice",
//		Password: "secret",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	results, err := client.Upload(ctx, clientcli.UploadOptions{
//		LocalPath:  "./report.pdf",
//		RemotePath: "docs/report.pdf",
//	})
//
// Server errors are *APIError values; compare with errors.Is against
// ErrNotFound, ErrConflict and the other sentinels.
//
// # Profile Configuration
//
//	configFile, err := clientcli.LoadConfigFile(clientcli.DefaultConfigPath())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	profile, err := configFile.GetProfile("production")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := clientcli.New(clientcli.ConfigFromProfile(profile))
//
// # Output Formatting
//
//	formatter := clientcli.NewFormatter(jsonOutput, quiet)
//	formatter.FormatUpload(os.Stdout, results)
package clientcli
