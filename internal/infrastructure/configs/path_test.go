package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigPathPrecedence(t *testing.T) {
	always := func(string) bool { return true }
	never := func(string) bool { return false }

	tests := []struct {
		name   string
		flag   string
		env    string
		exists func(string) bool
		want   string
	}{
		{name: "flag wins", flag: "/flag.yaml", env: "/env.yaml", exists: always, want: "/flag.yaml"},
		{name: "env before search", env: "/env.yaml", exists: always, want: "/env.yaml"},
		{name: "first existing candidate", exists: func(p string) bool { return p == "b" }, want: "b"},
		{name: "nothing found", exists: never, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveConfigPath(tt.flag, tt.env, []string{"a", "b", "c"}, tt.exists)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileExistsIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: {}\n"), 0o600))

	assert.True(t, fileExists(path))
	assert.False(t, fileExists(dir))
	assert.False(t, fileExists(filepath.Join(dir, "missing.yaml")))
}
