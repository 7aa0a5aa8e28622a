// Package config provides configuration loading and validation for stowdrive.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (STOWDRIVE_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with STOWDRIVE_ prefix:
//   - server.port → STOWDRIVE_SERVER_PORT
//   - shares.type → STOWDRIVE_SHARES_TYPE
//   - auth.secret → STOWDRIVE_AUTH_SECRET
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: port, base and share paths, public URL, upload limit
//   - Auth: direct credential and capability secret
//   - Store: filesystem path or S3 bucket
//   - Shares: share backend (sqlite, postgres, badger) and purge schedule
//   - Thumbnails: resizer endpoint, size and schedule
//   - Gateway: bounds on recursive COPY and DELETE
//   - CORS: cross-origin resource sharing settings
//   - Log: logging level
//
// # Validation
//
// Configuration is validated using struct tags plus struct-level rules for
// the S3 block and the thumbnail pipeline:
//   - Port must be 1-65535
//   - Base and share paths must be absolute and distinct
//   - An s3 store needs a bucket and a region
//   - Enabled thumbnails need a resizer and either a source base URL or
//     a public URL with a signing secret
package config
