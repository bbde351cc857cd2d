package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// allowedExtensions are the indexable document types.
var allowedExtensions = map[string]bool{".txt": true, ".md": true}

// DocumentChunk is one indexed unit with its source file.
type DocumentChunk struct {
	Source  string
	Content string
}

// decodeText decodes file bytes trying UTF-8 first, then the common Chinese
// encodings, then Latin-1 which never fails.
func decodeText(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return strings.TrimPrefix(string(data), "\uFEFF"), "utf-8", nil
	}
	if out, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), data); err == nil {
		return string(out), "gbk", nil
	}
	if out, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), data); err == nil {
		return string(out), "gb18030", nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return "", "", fmt.Errorf("knowledge: decode: %w", err)
	}
	return string(out), "latin-1", nil
}

// LoadChunks reads and chunks every indexable file in dir, or just
// specificFile when given.
func (m *Manager) LoadChunks(specificFile string) ([]DocumentChunk, error) {
	var files []string
	if specificFile != "" {
		path := filepath.Join(m.dataDir, filepath.Base(specificFile))
		if !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil, fmt.Errorf("knowledge: unsupported file type: %s", specificFile)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("knowledge: %s: %w", specificFile, err)
		}
		files = []string{path}
	} else {
		entries, err := os.ReadDir(m.dataDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("knowledge: scan %s: %w", m.dataDir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !allowedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			files = append(files, filepath.Join(m.dataDir, e.Name()))
		}
		sort.Strings(files)
	}

	var chunks []DocumentChunk
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("document unreadable, skipped", "file", filepath.Base(path), "error", err)
			continue
		}
		text, enc, err := decodeText(data)
		if err != nil {
			m.logger.Warn("document undecodable, skipped", "file", filepath.Base(path), "error", err)
			continue
		}
		pieces := Split(text)
		for _, p := range pieces {
			chunks = append(chunks, DocumentChunk{Source: filepath.Base(path), Content: p})
		}
		m.logger.Info("document loaded", "file", filepath.Base(path), "chunks", len(pieces), "encoding", enc)
	}
	return chunks, nil
}
