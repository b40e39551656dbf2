package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestRules_Ignored(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":       "data/\n*.log\n",
		"src/.gitignore":   "generated.py\n",
		"src/main.py":      "print()",
		"src/generated.py": "x = 1",
	})
	rules, err := LoadRules(root, []string{"checkpoints/", "# comment", ""})
	require.NoError(t, err)

	cases := []struct {
		path    string
		isDir   bool
		ignored bool
	}{
		{"src/main.py", false, false},
		{"Dockerfile", false, false},
		{"k8s", true, false},
		{".build.json", false, true},
		{".push.json", false, true},
		{".mlt", true, true},
		{".mlt/history.db", false, true},
		{".git/index", false, true},
		{"src/.main.py.swp", false, true},
		{"src/main.py~", false, true},
		{"src/#main.py#", false, true},
		{"src/4913", false, true},
		{"src/__pycache__", true, true},
		{"data", true, true},
		{"train.log", false, true},
		{"src/generated.py", false, true},
		{"generated.py", false, false},
		{"checkpoints", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			path := filepath.Join(root, filepath.FromSlash(tc.path))
			assert.Equal(t, tc.ignored, rules.Ignored(path, tc.isDir))
		})
	}

	assert.False(t, rules.Ignored(root, true))
	assert.True(t, rules.Ignored(filepath.Dir(root), true), "outside the root")
}

func TestLatestChange(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":   "data/\n",
		"main.py":      "a",
		"k8s/job.yaml": "b",
		"data/big.csv": "c",
		".build.json":  "{}",
	})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for rel, offset := range map[string]time.Duration{
		".gitignore":   0,
		"main.py":      time.Minute,
		"k8s/job.yaml": 2 * time.Minute,
		"data/big.csv": time.Hour,
		".build.json":  time.Hour,
	} {
		ts := base.Add(offset)
		require.NoError(t, os.Chtimes(filepath.Join(root, filepath.FromSlash(rel)), ts, ts))
	}

	rules, err := LoadRules(root, nil)
	require.NoError(t, err)

	newest, path, err := LatestChange(rules)
	require.NoError(t, err)
	assert.True(t, base.Add(2*time.Minute).Equal(newest), "got %s", newest)
	assert.Equal(t, filepath.Join(root, "k8s", "job.yaml"), path)
}
