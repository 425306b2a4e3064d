package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"schema-migrator/internal/migration/domain/model"

	"github.com/stretchr/testify/require"
)

// MigrationFixture builds migrations in memory
type MigrationFixture struct{}

// NewMigrationFixture creates a new MigrationFixture instance
func NewMigrationFixture() *MigrationFixture {
	return &MigrationFixture{}
}

// Migration returns a migration whose down list is derived from up
func (f *MigrationFixture) Migration(version uint64, name string, up ...model.Operation) *model.Migration {
	down, err := model.DeriveDown(up)
	if err != nil {
		panic(fmt.Sprintf("fixture %d_%s: %v", version, name, err))
	}
	return &model.Migration{
		Version:     version,
		Name:        name,
		Up:          up,
		Down:        down,
		Checksum:    fmt.Sprintf("%016x", version),
		DownDerived: true,
	}
}

// UsersPostsSet is the three-migration scenario: Users, an email index, Posts
func (f *MigrationFixture) UsersPostsSet() []*model.Migration {
	return []*model.Migration{
		f.Migration(1, "create_users", model.CreateCollection{Name: "Users"}),
		f.Migration(2, "index_users_email", model.CreateIndex{Collection: "Users", Fields: []string{"email"}, Unique: true}),
		f.Migration(3, "create_posts", model.CreateCollection{Name: "Posts"}),
	}
}

// WriteFile writes a migration file into dir and returns its path
func WriteFile(t testing.TB, dir, fileName, content string) string {
	t.Helper()
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// UsersPostsYAML mirrors UsersPostsSet as files keyed by file name
func UsersPostsYAML() map[string]string {
	return map[string]string{
		"1_create_users.yaml": `up:
  - create_collection:
      name: Users
`,
		"2_index_users_email.yaml": `up:
  - create_index:
      collection: Users
      fields: [email]
      unique: true
`,
		"3_create_posts.yml": `up:
  - create_collection:
      name: Posts
down:
  - drop_collection:
      name: Posts
`,
	}
}
