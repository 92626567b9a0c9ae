package storage

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// PolicyError names the attachment and the limit it broke.
type PolicyError struct {
	File   string
	Reason string
}

func (e *PolicyError) Error() string {
	if e.File == "" {
		return e.Reason
	}
	return fmt.Sprintf("anexo %s: %s", e.File, e.Reason)
}

// FilePolicy constrains attachments uploaded with a response. Zero limits
// and empty lists disable the corresponding check; a nil policy allows all.
type FilePolicy struct {
	MaxTotalMB float64
	MaxFileMB  float64
	MimeTypes  []string
	Extensions []string

	exts map[string]struct{}
}

// FileSpec describes a file about to be uploaded.
type FileSpec struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

func NewFilePolicy(maxFileMB, maxTotalMB float64, mimeTypes, extensions []string) *FilePolicy {
	fp := &FilePolicy{MaxFileMB: maxFileMB, MaxTotalMB: maxTotalMB, exts: make(map[string]struct{})}
	for _, m := range mimeTypes {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			fp.MimeTypes = append(fp.MimeTypes, m)
		}
	}
	for _, e := range extensions {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e == "" {
			continue
		}
		fp.Extensions = append(fp.Extensions, e)
		fp.exts[e] = struct{}{}
	}
	return fp
}

func megabytes(v float64) int64 { return int64(v * (1 << 20)) }

func (fp *FilePolicy) ValidateFile(name, contentType string, size int64) error {
	if fp == nil {
		return nil
	}
	if fp.MaxFileMB > 0 && size > megabytes(fp.MaxFileMB) {
		return &PolicyError{File: name, Reason: fmt.Sprintf("excede o limite de %.0f MB por arquivo", fp.MaxFileMB)}
	}
	if len(fp.MimeTypes) > 0 && !fp.allowsMIME(contentType) {
		return &PolicyError{File: name, Reason: fmt.Sprintf("tipo %q não permitido", contentType)}
	}
	if len(fp.Extensions) > 0 && !fp.allowsExtension(name) {
		return &PolicyError{File: name, Reason: "extensão não permitida"}
	}
	return nil
}

// ValidateBatch checks every file and then the combined size.
func (fp *FilePolicy) ValidateBatch(files []FileSpec) error {
	if fp == nil {
		return nil
	}
	var total int64
	for _, f := range files {
		if err := fp.ValidateFile(f.Name, f.MIME, f.Size); err != nil {
			return err
		}
		total += f.Size
	}
	if fp.MaxTotalMB > 0 && total > megabytes(fp.MaxTotalMB) {
		return &PolicyError{Reason: fmt.Sprintf("total dos anexos excede %.0f MB", fp.MaxTotalMB)}
	}
	return nil
}

// allowsMIME accepts exact media types and "type/*" wildcards. Parameters
// such as charset are ignored.
func (fp *FilePolicy) allowsMIME(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, allowed := range fp.MimeTypes {
		if family, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mediaType, family+"/") {
				return true
			}
			continue
		}
		if mediaType == allowed {
			return true
		}
	}
	return false
}

func (fp *FilePolicy) allowsExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	_, ok := fp.exts[ext]
	return ok && ext != ""
}
