package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"esic/internal/model"

	"github.com/oklog/ulid/v2"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey derives a unique, flat object name from a client file name.
func ObjectKey(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "arquivo"
	}
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return ulid.Make().String() + "-" + base
}

// ValidateAnexos checks attachment metadata sent with a response.
func ValidateAnexos(anexos []model.Anexo, policy *FilePolicy) error {
	specs := make([]FileSpec, 0, len(anexos))
	for i, a := range anexos {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("anexo %d: name is required", i)
		}
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("anexo %d: url is required", i)
		}
		if a.Size < 0 {
			return fmt.Errorf("anexo %d: size must be non-negative", i)
		}
		specs = append(specs, FileSpec{Name: a.Name, MIME: a.MIME, Size: a.Size})
	}
	return policy.ValidateBatch(specs)
}
