package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DocumentInfo describes one knowledge file for the management surface.
type DocumentInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

// ListDocuments enumerates the indexable files in the knowledge directory.
func (m *Manager) ListDocuments() ([]DocumentInfo, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("knowledge: list: %w", err)
	}
	var out []DocumentInfo
	for _, e := range entries {
		if e.IsDir() || !allowedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, DocumentInfo{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime().Format("2006-01-02 15:04:05"),
		})
	}
	return out, nil
}

// PreviewDocument returns the decoded head of a document.
func (m *Manager) PreviewDocument(name string, maxRunes int) (string, error) {
	path := filepath.Join(m.dataDir, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("knowledge: preview %s: %w", name, err)
	}
	text, _, err := decodeText(data)
	if err != nil {
		return "", err
	}
	runes := []rune(text)
	if len(runes) > maxRunes {
		return string(runes[:maxRunes]), nil
	}
	return text, nil
}

// DeleteDocument removes a document and marks the index stale. The vector
// store keeps the old chunks until the next rebuild.
func (m *Manager) DeleteDocument(name string) error {
	path := filepath.Join(m.dataDir, filepath.Base(name))
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("knowledge: delete %s: %w", name, err)
	}
	m.stale.Store(true)
	return nil
}
