package schemafs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"schema-migrator/internal/migration/domain/model"
	"schema-migrator/internal/shared/errors"

	"gopkg.in/yaml.v3"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_\-]+)\.ya?ml$`)

// migrationDocument is the top level of a migration file.
// Down stays a raw node: a zero Kind means the key is absent, while
// "down:" and "down: []" both mean an empty rollback.
type migrationDocument struct {
	Up   []yaml.Node `yaml:"up"`
	Down yaml.Node   `yaml:"down"`
}

// IsMigrationFile reports whether discovery considers the directory entry at all
func IsMigrationFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// ParseFileName splits "<version>_<name>.yaml" into its parts
func ParseFileName(fileName string) (uint64, string, error) {
	match := fileNamePattern.FindStringSubmatch(fileName)
	if match == nil {
		return 0, "", fmt.Errorf("file name %q does not match <version>_<name>.yaml", fileName)
	}
	version, err := strconv.ParseUint(match[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("file name %q: version %s: %w", fileName, match[1], err)
	}
	return version, match[2], nil
}

// LoadMigration reads and parses a single migration file
func LoadMigration(path string) (*model.Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewParseError(path, "cannot read migration file").WithCause(err)
	}
	return ParseMigration(path, data)
}

// ParseMigration parses migration file contents. path supplies the version and name.
func ParseMigration(path string, data []byte) (*model.Migration, error) {
	version, name, err := ParseFileName(filepath.Base(path))
	if err != nil {
		return nil, errors.NewParseError(path, "malformed migration file name").WithCause(err)
	}

	var doc migrationDocument
	if err := strictDecode(data, &doc); err != nil {
		if err == io.EOF {
			return nil, errors.NewParseError(path, "empty migration file")
		}
		return nil, errors.NewParseError(path, "invalid YAML").WithCause(err)
	}

	up, err := decodeOperations(doc.Up)
	if err != nil {
		return nil, errors.NewParseError(path, "invalid up operation").WithCause(err)
	}

	m := &model.Migration{
		Version:  version,
		Name:     name,
		Up:       up,
		Path:     path,
		Checksum: model.Checksum(data),
	}

	if doc.Down.Kind == 0 {
		m.Down, err = model.DeriveDown(up)
		if err != nil {
			return nil, errors.NewParseError(path, "down omitted and cannot be derived from up").WithCause(err)
		}
		m.DownDerived = true
		return m, nil
	}

	down, err := downNodes(&doc.Down)
	if err != nil {
		return nil, errors.NewParseError(path, "invalid down section").WithCause(err)
	}
	m.Down, err = decodeOperations(down)
	if err != nil {
		return nil, errors.NewParseError(path, "invalid down operation").WithCause(err)
	}
	return m, nil
}

// downNodes accepts a null or a sequence
func downNodes(node *yaml.Node) ([]yaml.Node, error) {
	switch {
	case node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null":
		return nil, nil
	case node.Kind == yaml.SequenceNode:
		nodes := make([]yaml.Node, 0, len(node.Content))
		for _, item := range node.Content {
			nodes = append(nodes, *item)
		}
		return nodes, nil
	}
	return nil, fmt.Errorf("line %d: down must be a list of operations", node.Line)
}

func decodeOperations(nodes []yaml.Node) ([]model.Operation, error) {
	ops := make([]model.Operation, 0, len(nodes))
	for i := range nodes {
		op, err := decodeOperation(&nodes[i])
		if err != nil {
			return nil, fmt.Errorf("operation %d (line %d): %w", i, nodes[i].Line, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// decodeOperation expects a single-key mapping: {<kind>: {<fields>}}
func decodeOperation(node *yaml.Node) (model.Operation, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, fmt.Errorf("expected a mapping with exactly one operation key")
	}
	key, body := node.Content[0], node.Content[1]

	return model.DecodeOperation(key.Value, func(v interface{}) error {
		if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
			return nil
		}
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("%s: expected a mapping of fields", key.Value)
		}
		raw, err := yaml.Marshal(body)
		if err != nil {
			return err
		}
		if err := strictDecode(raw, v); err != nil {
			return fmt.Errorf("%s: %w", key.Value, err)
		}
		return nil
	})
}

func strictDecode(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// Discover loads every migration file directly under dir.
// Hidden entries, subdirectories and non-YAML files are skipped. Every malformed
// file is reported in one discovery error. The result is in directory order.
func Discover(dir string) ([]*model.Migration, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.NewDiscoveryError(fmt.Sprintf("cannot open schema directory %s", dir)).
			WithCause(err).
			WithDetail("path", dir)
	}
	if !info.IsDir() {
		return nil, errors.NewDiscoveryError(fmt.Sprintf("schema path %s is not a directory", dir)).
			WithDetail("path", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewDiscoveryError(fmt.Sprintf("cannot list schema directory %s", dir)).
			WithCause(err).
			WithDetail("path", dir)
	}

	migrations := make([]*model.Migration, 0, len(entries))
	parseErrs := errors.NewParseErrors()
	for _, entry := range entries {
		if entry.IsDir() || !IsMigrationFile(entry.Name()) {
			continue
		}
		m, err := LoadMigration(filepath.Join(dir, entry.Name()))
		if err != nil {
			parseErrs.Add(err)
			continue
		}
		migrations = append(migrations, m)
	}

	if parseErrs.HasErrors() {
		return nil, parseErrs.ToAppError().WithDetail("path", dir)
	}
	return migrations, nil
}
