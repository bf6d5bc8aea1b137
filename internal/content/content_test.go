package content

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParseFrontmatter(t *testing.T) {
	meta, body, err := ParseFrontmatter([]byte("---\ntitle: Sensors\nlanguage: ur\n---\n# Sensors\nText.\n"))
	require.NoError(t, err)
	assert.Equal(t, Frontmatter{Title: "Sensors", Language: "ur"}, meta)
	assert.Equal(t, "# Sensors\nText.\n", body)
}

func TestParseFrontmatterAbsentOrEmpty(t *testing.T) {
	meta, body, err := ParseFrontmatter([]byte("# Plain\nNo header.\n"))
	require.NoError(t, err)
	assert.Empty(t, meta.Title)
	assert.Equal(t, "# Plain\nNo header.\n", body)

	meta, body, err = ParseFrontmatter([]byte("---\n---\nBody.\n"))
	require.NoError(t, err)
	assert.Empty(t, meta.Title)
	assert.Equal(t, "Body.\n", body)

	_, body, err = ParseFrontmatter([]byte("---\ntitle: open\nno closing line"))
	require.NoError(t, err)
	assert.Equal(t, "---\ntitle: open\nno closing line", body)
}

func TestParseFrontmatterInvalidYAML(t *testing.T) {
	_, _, err := ParseFrontmatter([]byte("---\ntitle: [unclosed\n---\nBody.\n"))
	assert.Error(t, err)
}

func TestSourceID(t *testing.T) {
	root := filepath.Join("content")
	cases := map[string]string{
		"chapter-1/intro.md":     "chapter-1-intro",
		"chapter-1/chapter-1.md": "chapter-1",
		"chapter-2/index.md":     "chapter-2",
		"preface.md":             "preface",
		"Chapter 3/Sensors.md":   "chapter-3-sensors",
	}
	for rel, want := range cases {
		got, err := SourceID(root, filepath.Join(root, rel))
		require.NoError(t, err)
		assert.Equal(t, want, got, rel)
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "chapter-2", "sensors.md"), "---\ntitle: Sensors\n---\nSensors sense.\n")
	writeFile(t, filepath.Join(root, "chapter-1", "intro.md"), "---\nlanguage: ur\n---\nروبوٹ۔\n")
	writeFile(t, filepath.Join(root, "chapter-1", "notes.txt"), "ignored")

	docs, err := Load(root, "en")
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "chapter-1-intro", docs[0].SourceID)
	assert.Equal(t, "ur", docs[0].Language)
	assert.Equal(t, "chapter 1", docs[0].Title)
	assert.Equal(t, "chapter-2-sensors", docs[1].SourceID)
	assert.Equal(t, "en", docs[1].Language)
	assert.Equal(t, "Sensors", docs[1].Title)
	assert.Equal(t, "Sensors sense.\n", docs[1].Body)
}

func TestLoadFileRejectsOtherExtensions(t *testing.T) {
	_, err := LoadFile(".", "notes.txt", "en")
	assert.ErrorIs(t, err, ErrNotMarkdown)
}

func TestWatchReportsChangedMarkdown(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "chapter-1"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, root, 50*time.Millisecond, nil, func(_ context.Context, paths []string) {
			mu.Lock()
			seen = append(seen, paths...)
			mu.Unlock()
		})
	}()
	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(root, "chapter-1", "intro.md")
	writeFile(t, target, "Robots move.\n")
	writeFile(t, filepath.Join(root, "chapter-1", "draft.txt"), "skip")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	for _, p := range seen {
		assert.Equal(t, target, p)
	}
}
