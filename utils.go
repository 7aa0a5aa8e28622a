package stowdrive

import (
	"strings"
	"unicode/utf8"
)

// IsValidKey validates that a key can name an object in the drive.
// The root key "" is valid. Otherwise it checks that the key:
//   - is relative and does not end with "/"
//   - does not contain "." or ".." segments
//   - does not contain "//" (empty segments)
//   - does not contain a backslash
//   - is valid UTF-8 without control characters
//
// Spaces and punctuation are allowed since drive users name files freely.
func IsValidKey(k string) bool {
	if k == "" {
		return true
	}

	if k[0] == '/' || strings.HasSuffix(k, "/") {
		return false
	}

	if strings.Contains(k, "//") || strings.Contains(k, `\`) {
		return false
	}

	if !utf8.ValidString(k) {
		return false
	}

	for _, seg := range strings.Split(k, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}

	for _, r := range k {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}

	return true
}

// NormalizeKey trims surrounding slashes from a request path fragment.
func NormalizeKey(p string) string {
	return strings.Trim(p, "/")
}

// ParentKey returns the key of the directory containing k. Top-level keys
// have the root ("") as parent.
func ParentKey(k string) string {
	i := strings.LastIndexByte(k, '/')
	if i < 0 {
		return ""
	}
	return k[:i]
}

// BaseName returns the last segment of k.
func BaseName(k string) string {
	return k[strings.LastIndexByte(k, '/')+1:]
}

// ChildPrefix returns the listing prefix for the children of dir.
func ChildPrefix(dir string) string {
	if dir == "" {
		return ""
	}
	return dir + "/"
}

// IsWithin reports whether k equals dir or lies beneath it.
func IsWithin(k, dir string) bool {
	if dir == "" {
		return true
	}
	return k == dir || strings.HasPrefix(k, dir+"/")
}

// IsDigest reports whether s is a lowercase hex sha256 digest.
func IsDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
