// Package security validates untrusted input at the API boundary.
package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidFilename indicates an uploaded filename is unsafe to store.
var ErrInvalidFilename = errors.New("invalid filename")

// MaxFilenameLen caps stored filenames. Longer names are rejected rather
// than truncated so the name a client deletes by always matches the one
// it uploaded.
const MaxFilenameLen = 255

// ValidateFilename checks a client-supplied filename before it becomes
// chunk metadata. Filenames are stored verbatim and later used as lookup
// keys, so path separators, traversal sequences, and control characters
// are rejected (CWE-22).
func ValidateFilename(name string) error {
	if name == "" || strings.TrimSpace(name) == "" {
		return errors.New("filename is empty")
	}
	if !utf8.ValidString(name) {
		return errors.New("filename is not valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxFilenameLen {
		return errors.New("filename too long")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.New("filename contains a path separator")
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return errors.New("filename contains a traversal sequence")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.New("filename contains a control character")
		}
	}
	return nil
}

// SanitizeFilename returns the filename if it passes validation, wrapping
// failures in ErrInvalidFilename for callers that branch on the error.
func SanitizeFilename(name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFilename, err)
	}
	return name, nil
}
