// Package content reads textbook chapters laid out as
// <root>/<chapter>/<file>.md with optional YAML frontmatter.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"textbook-rag/internal/segmenter"
)

var ErrNotMarkdown = errors.New("not a markdown file")

type Frontmatter struct {
	Title    string `yaml:"title"`
	Language string `yaml:"language"`
}

type Document struct {
	SourceID string
	Title    string
	Language string
	Path     string
	// Body is the file content after the frontmatter block.
	Body string
}

// Load returns every markdown document under root ordered by source id.
func Load(root, defaultLanguage string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsMarkdown(path) {
			return nil
		}
		doc, err := LoadFile(root, path, defaultLanguage)
		if err != nil {
			return err
		}
		docs = append(docs, *doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load content from %s failed: %w", root, err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceID < docs[j].SourceID })
	return docs, nil
}

func LoadFile(root, path, defaultLanguage string) (*Document, error) {
	if !IsMarkdown(path) {
		return nil, fmt.Errorf("%w: %s", ErrNotMarkdown, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", path, err)
	}
	meta, body, err := ParseFrontmatter(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s failed: %w", path, err)
	}
	sourceID, err := SourceID(root, path)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		SourceID: sourceID,
		Title:    meta.Title,
		Language: meta.Language,
		Path:     path,
		Body:     body,
	}
	if doc.Language == "" {
		doc.Language = defaultLanguage
	}
	if doc.Title == "" {
		doc.Title = strings.ReplaceAll(filepath.Base(filepath.Dir(path)), "-", " ")
	}
	return doc, nil
}

// ParseFrontmatter splits a leading "---" delimited YAML block from the body.
// Files without one are returned whole with an empty Frontmatter.
func ParseFrontmatter(raw []byte) (Frontmatter, string, error) {
	var meta Frontmatter
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	rest, ok := cutDelimiter(raw)
	if !ok {
		return meta, string(raw), nil
	}
	// Prepending a newline lets an empty block close on the first line.
	rest = append([]byte("\n"), rest...)
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return meta, string(raw), nil
	}
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return meta, "", fmt.Errorf("decode frontmatter failed: %w", err)
	}
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return meta, string(body), nil
}

func cutDelimiter(raw []byte) ([]byte, bool) {
	for _, prefix := range []string{"---\n", "---\r\n"} {
		if rest, ok := bytes.CutPrefix(raw, []byte(prefix)); ok {
			return rest, true
		}
	}
	return nil, false
}

// SourceID names a file by its chapter directory and stem, e.g.
// chapter-1/intro.md becomes "chapter-1-intro". A file whose stem equals
// its chapter, or is "index", takes the chapter name alone.
func SourceID(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s under %s failed: %w", path, root, err)
	}
	stem := segmenter.Slug(strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)))
	chapter := segmenter.Slug(filepath.Dir(rel))
	switch {
	case chapter == "":
		return stem, nil
	case stem == chapter || stem == "index":
		return chapter, nil
	default:
		return chapter + "-" + stem, nil
	}
}

func IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}
