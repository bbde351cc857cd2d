package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentia/replyflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hashEmbedder struct{}

func embedText(text string) []float32 {
	vec := make([]float32, 8)
	for i, b := range []byte(text) {
		vec[i%8] += float32(b) / 255
	}
	vec[0] += 1 // never the zero vector
	return vec
}

func (hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Data.KnowledgeDir = t.TempDir()
	cfg.Data.VectorDir = t.TempDir()
	return NewManager(cfg, slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func writeDoc(t *testing.T, m *Manager, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(m.dataDir, name), []byte(content), 0o644))
}

func TestDetectDimensionByModelName(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"Qwen/Qwen3-Embedding-8B", 4096},
		{"Qwen/Qwen3-Embedding-4B", 2560},
		{"qwen/qwen3-embedding-2b", 1024},
		{"some-embedding-1.5b-model", 1024},
	}
	for _, tt := range tests {
		dim, err := DetectDimension(context.Background(), tt.model, nil)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.want, dim, tt.model)
	}
}

func TestDetectDimensionFallsBackToProbe(t *testing.T) {
	dim, err := DetectDimension(context.Background(), "unknown-model", hashEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, 8, dim)
}

func TestRebuildCreatesDimensionKeyedStore(t *testing.T) {
	m := newTestManager(t)
	writeDoc(t, m, "faq.txt", "企服通基础版每月999元。标准版每月1999元，包含CRM和ERP模块。")

	result, err := m.Rebuild(context.Background(), "Qwen/Qwen3-Embedding-8B", hashEmbedder{}, "")
	require.NoError(t, err)
	assert.Equal(t, 4096, result.Dimension)
	assert.Positive(t, result.Chunks)

	info, err := os.Stat(m.dbPath(4096))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.False(t, m.Stale())
}

func TestRebuildForNewDimensionKeepsOldStore(t *testing.T) {
	m := newTestManager(t)
	writeDoc(t, m, "faq.txt", "旗舰版提供专属技术支持和定制开发服务。")

	_, err := m.Rebuild(context.Background(), "Qwen/Qwen3-Embedding-4B", hashEmbedder{}, "")
	require.NoError(t, err)
	_, err = m.Rebuild(context.Background(), "Qwen/Qwen3-Embedding-8B", hashEmbedder{}, "")
	require.NoError(t, err)

	// The 2560 store is history, not garbage.
	_, err = os.Stat(m.dbPath(2560))
	assert.NoError(t, err)
	_, err = os.Stat(m.dbPath(4096))
	assert.NoError(t, err)
}

func TestRebuildWithoutDocumentsFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Rebuild(context.Background(), "Qwen/Qwen3-Embedding-4B", hashEmbedder{}, "")
	assert.Error(t, err)
}

func TestRetrieveFindsIndexedContent(t *testing.T) {
	m := newTestManager(t)
	writeDoc(t, m, "pricing.txt", "企服通标准版价格为每月1999元。")
	_, err := m.Rebuild(context.Background(), "Qwen/Qwen3-Embedding-4B", hashEmbedder{}, "")
	require.NoError(t, err)

	docs, err := m.Retrieve(context.Background(), "标准版价格", ProductK, "Qwen/Qwen3-Embedding-4B", hashEmbedder{})
	require.NoError(t, err)
	assert.Contains(t, docs, "1999")
}

func TestRetrieveEmptyStore(t *testing.T) {
	m := newTestManager(t)
	docs, err := m.Retrieve(context.Background(), "query", ProductK, "Qwen/Qwen3-Embedding-4B", hashEmbedder{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCategoryK(t *testing.T) {
	assert.Equal(t, ProductK, CategoryK("product_enquiry"))
	assert.Equal(t, ComplaintK, CategoryK("customer_complaint"))
	assert.Equal(t, FeedbackK, CategoryK("customer_feedback"))
	assert.Equal(t, ProductK, CategoryK("unrelated"))
}

func TestDocumentManagement(t *testing.T) {
	m := newTestManager(t)
	writeDoc(t, m, "a.txt", "文档内容A")
	writeDoc(t, m, "b.md", "文档内容B")
	writeDoc(t, m, "ignored.pdf", "binary")

	docs, err := m.ListDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 2)

	preview, err := m.PreviewDocument("a.txt", 100)
	require.NoError(t, err)
	assert.Equal(t, "文档内容A", preview)

	require.NoError(t, m.DeleteDocument("a.txt"))
	assert.True(t, m.Stale())

	docs, err = m.ListDocuments()
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestLoadChunksDecodesGBK(t *testing.T) {
	m := newTestManager(t)
	// "你好" in GBK bytes.
	gbk := []byte{0xC4, 0xE3, 0xBA, 0xC3}
	require.NoError(t, os.WriteFile(filepath.Join(m.dataDir, "gbk.txt"), gbk, 0o644))

	chunks, err := m.LoadChunks("")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "你好", chunks[0].Content)
}

func TestLoadChunksSpecificFileRejectsUnknownType(t *testing.T) {
	m := newTestManager(t)
	writeDoc(t, m, "data.bin", "x")
	_, err := m.LoadChunks("data.bin")
	assert.Error(t, err)
}
