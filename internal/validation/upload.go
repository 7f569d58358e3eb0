// Package validation screens uploaded documents before they reach the
// ingestion pipeline. Only plain-text formats are accepted; anything
// that does not decode as UTF-8 is rejected up front so the chunker and
// embedder never see binary data.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrorCode classifies why an upload was rejected.
type ErrorCode string

const (
	CodeEmptyFile    ErrorCode = "empty_file"
	CodeTooLarge     ErrorCode = "file_too_large"
	CodeBadFilename  ErrorCode = "invalid_filename"
	CodeBadExtension ErrorCode = "extension_not_allowed"
	CodeNotText      ErrorCode = "not_utf8_text"
)

// Result reports the outcome of an upload check. Size, Extension and
// SafeName are populated only when the upload passed.
type Result struct {
	Valid     bool      `json:"valid"`
	Code      ErrorCode `json:"code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Extension string    `json:"extension,omitempty"`
	SafeName  string    `json:"safe_name,omitempty"`
}

// Upload validates incoming document files: filename hygiene, size
// limit, extension allow-list and UTF-8 content.
type Upload struct {
	maxBytes   int64
	maxNameLen int
	allowed    map[string]bool

	traversalRe *regexp.Regexp
	invalidRe   *regexp.Regexp
}

const defaultMaxBytes = 32 << 20

// NewUpload builds a validator capped at maxBytes per file; a
// non-positive cap falls back to 32MB. Plain text and Markdown
// extensions are accepted out of the box.
func NewUpload(maxBytes int64) *Upload {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Upload{
		maxBytes:   maxBytes,
		maxNameLen: 255,
		allowed: map[string]bool{
			".txt":      true,
			".text":     true,
			".md":       true,
			".markdown": true,
		},
		traversalRe: regexp.MustCompile(`\.\.[\/\\]`),
		invalidRe:   regexp.MustCompile(`[<>:"|?*\x00-\x1f]`),
	}
}

// Allow adds extensions to the accepted set. Names are normalized to a
// leading dot and lower case.
func (u *Upload) Allow(exts ...string) {
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		u.allowed[ext] = true
	}
}

// Extensions returns the accepted extensions sorted ascending.
func (u *Upload) Extensions() []string {
	exts := make([]string, 0, len(u.allowed))
	for ext := range u.allowed {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Check runs every validation against a candidate upload and reports
// the first failure.
func (u *Upload) Check(filename string, data []byte) Result {
	nameResult := u.CheckFilename(filename)
	if !nameResult.Valid {
		return nameResult
	}

	size := int64(len(data))
	if size == 0 {
		return Result{Code: CodeEmptyFile, Reason: "file is empty"}
	}
	if size > u.maxBytes {
		return Result{
			Code:   CodeTooLarge,
			Reason: fmt.Sprintf("file size %d exceeds the %d byte limit", size, u.maxBytes),
			Size:   size,
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !u.allowed[ext] {
		return Result{
			Code:   CodeBadExtension,
			Reason: fmt.Sprintf("extension %q is not allowed, accepted: %s", ext, strings.Join(u.Extensions(), ", ")),
		}
	}

	if !utf8.Valid(data) {
		return Result{Code: CodeNotText, Reason: "content is not valid UTF-8 text"}
	}

	return Result{
		Valid:     true,
		Size:      size,
		Extension: ext,
		SafeName:  nameResult.SafeName,
	}
}

// CheckFilename validates the name alone, without content checks.
func (u *Upload) CheckFilename(filename string) Result {
	if strings.TrimSpace(filename) == "" {
		return Result{Code: CodeBadFilename, Reason: "filename is empty"}
	}
	if strings.Contains(filename, "\x00") {
		return Result{Code: CodeBadFilename, Reason: "filename contains null bytes"}
	}
	if u.traversalRe.MatchString(filename) {
		return Result{Code: CodeBadFilename, Reason: "filename contains path traversal sequences"}
	}
	if len(filename) > u.maxNameLen {
		return Result{Code: CodeBadFilename, Reason: fmt.Sprintf("filename exceeds %d characters", u.maxNameLen)}
	}
	if u.invalidRe.MatchString(filename) {
		return Result{Code: CodeBadFilename, Reason: "filename contains invalid characters"}
	}
	return Result{Valid: true, SafeName: SanitizeFilename(filename)}
}

// SanitizeFilename reduces a name to letters, digits, dots, dashes and
// underscores, preserving a lowercased extension. Spaces become
// underscores; a name with nothing left becomes "document".
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r == '.' || r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if safe == "" {
		safe = "document"
	}

	var eb strings.Builder
	for _, r := range ext {
		if r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			eb.WriteRune(unicode.ToLower(r))
		}
	}
	return safe + eb.String()
}
