package schemafs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"schema-migrator/internal/shared/errors"
)

// VersionLayout formats the creation time into a migration version
const VersionLayout = "20060102150405"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

var migrationTemplate = template.Must(template.New("migration").Parse(`# Migration {{ .Name }}
# Created {{ .Created }}
#
# Operations: create_collection, drop_collection, create_edge_collection,
# drop_edge_collection, create_index, drop_index.
# Delete the down key to have it derived from up.
up: []
down: []
`))

// SanitizeName makes name safe to embed in a file name
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

// Create writes an empty migration named after now into dir, creating dir if needed.
// It never overwrites an existing file.
func Create(dir, name string, now time.Time) (string, error) {
	safe := SanitizeName(name)
	if strings.Trim(safe, "_") == "" {
		return "", errors.NewValidationError("migration name must contain at least one letter or digit").
			WithDetail("name", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewDiscoveryError(fmt.Sprintf("cannot create schema directory %s", dir)).
			WithCause(err)
	}

	now = now.UTC()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.yaml", now.Format(VersionLayout), safe))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", errors.NewValidationError(fmt.Sprintf("migration file %s already exists", path)).
				WithCause(errors.ErrAlreadyExists).
				WithDetail("path", path)
		}
		return "", errors.NewInternalError("cannot create migration file").WithCause(err).WithDetail("path", path)
	}
	defer f.Close()

	data := struct {
		Name    string
		Created string
	}{Name: safe, Created: now.Format(time.RFC3339)}
	if err := migrationTemplate.Execute(f, data); err != nil {
		return "", errors.NewInternalError("cannot write migration file").WithCause(err).WithDetail("path", path)
	}
	return path, nil
}
