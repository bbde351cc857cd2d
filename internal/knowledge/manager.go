package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agentia/replyflow/config"
	"github.com/agentia/replyflow/internal/adapter/llm"
	multierror "github.com/hashicorp/go-multierror"
	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "knowledge"

// Retriever k per category: enquiries need broad coverage, feedback less so.
const (
	ProductK   = 12
	ComplaintK = 10
	FeedbackK  = 8
)

// Manager owns the dimension-keyed vector stores over one knowledge
// directory. Stores open lazily and are cached; rebuilds replace the
// directory for the active dimension only, leaving other dimensions as
// history.
type Manager struct {
	logger    *slog.Logger
	dataDir   string
	vectorDir string

	mu     sync.Mutex
	stores map[int]*chromem.Collection

	stale atomic.Bool
}

func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		dataDir:   cfg.Data.KnowledgeDir,
		vectorDir: cfg.Data.VectorDir,
		stores:    make(map[int]*chromem.Collection),
	}
}

func (m *Manager) dbPath(dim int) string {
	return filepath.Join(m.vectorDir, fmt.Sprintf("db_%d", dim))
}

// Stale reports whether documents changed since the last index build.
func (m *Manager) Stale() bool { return m.stale.Load() }

// DetectDimension resolves the vector dimensionality for an embedding model:
// well-known model names first, then a probe embedding.
func DetectDimension(ctx context.Context, modelName string, embedder llm.Embedder) (int, error) {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "embedding-8b"):
		return 4096, nil
	case strings.Contains(lower, "embedding-4b"):
		return 2560, nil
	case strings.Contains(lower, "embedding-2b"), strings.Contains(lower, "embedding-1.5b"):
		return 1024, nil
	}
	vec, err := embedder.EmbedQuery(ctx, "test")
	if err != nil {
		return 0, fmt.Errorf("knowledge: probe embedding: %w", err)
	}
	return len(vec), nil
}

func embeddingFunc(embedder llm.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}

// open returns the collection for a dimension, creating the persistent store
// on first use.
func (m *Manager) open(dim int, embedder llm.Embedder) (*chromem.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if col, ok := m.stores[dim]; ok {
		return col, nil
	}
	db, err := chromem.NewPersistentDB(m.dbPath(dim), false)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open store %s: %w", m.dbPath(dim), err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, embeddingFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("knowledge: collection: %w", err)
	}
	m.stores[dim] = col
	return col, nil
}

// BuildResult summarises one index build.
type BuildResult struct {
	DBPath    string `json:"db_path"`
	Dimension int    `json:"dimension"`
	Chunks    int    `json:"chunks"`
}

// Rebuild reindexes the knowledge directory (or one file) into the store for
// the embedder's dimension. A full rebuild replaces that dimension's
// directory; other dimensions stay untouched. A failed batch insert is
// retried chunk-by-chunk once so one poisoned chunk cannot sink the build.
func (m *Manager) Rebuild(ctx context.Context, modelName string, embedder llm.Embedder, specificFile string) (*BuildResult, error) {
	dim, err := DetectDimension(ctx, modelName, embedder)
	if err != nil {
		return nil, err
	}

	chunks, err := m.LoadChunks(specificFile)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("knowledge: no indexable documents in %s", m.dataDir)
	}

	path := m.dbPath(dim)
	if specificFile == "" {
		m.mu.Lock()
		delete(m.stores, dim)
		m.mu.Unlock()
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("old store not fully removed, continuing", "path", path, "error", err)
		}
	}

	col, err := m.open(dim, embedder)
	if err != nil {
		return nil, err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, ch := range chunks {
		docs = append(docs, chromem.Document{
			ID:       fmt.Sprintf("%s#%d", ch.Source, i),
			Content:  ch.Content,
			Metadata: map[string]string{"source": ch.Source},
		})
	}

	vecs, err := embedder.Embed(ctx, contents(chunks))
	if err == nil && len(vecs) == len(docs) {
		for i := range docs {
			docs[i].Embedding = vecs[i]
		}
	} else if err != nil {
		m.logger.Warn("batch embedding failed, chromem will embed per chunk", "error", err)
	}

	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		m.logger.Warn("batch insert failed, retrying sequentially", "error", err)
		var chunkErrs *multierror.Error
		inserted := 0
		for _, d := range docs {
			if addErr := col.AddDocument(ctx, d); addErr != nil {
				chunkErrs = multierror.Append(chunkErrs, fmt.Errorf("chunk %s: %w", d.ID, addErr))
				continue
			}
			inserted++
		}
		if inserted == 0 {
			return nil, fmt.Errorf("knowledge: index build failed: %w", chunkErrs.ErrorOrNil())
		}
		if chunkErrs.ErrorOrNil() != nil {
			m.logger.Warn("some chunks skipped", "count", len(chunkErrs.Errors), "errors", chunkErrs)
		}
	}

	m.stale.Store(false)
	m.logger.Info("index built", "path", path, "dimension", dim, "chunks", len(docs))
	return &BuildResult{DBPath: path, Dimension: dim, Chunks: len(docs)}, nil
}

func contents(chunks []DocumentChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

// Retrieve runs a similarity search with the category-specific k and returns
// the concatenated chunk contents.
func (m *Manager) Retrieve(ctx context.Context, query string, k int, modelName string, embedder llm.Embedder) (string, error) {
	dim, err := DetectDimension(ctx, modelName, embedder)
	if err != nil {
		return "", err
	}
	col, err := m.open(dim, embedder)
	if err != nil {
		return "", err
	}
	if col.Count() == 0 {
		return "", nil
	}
	n := k
	if count := col.Count(); n > count {
		n = count
	}
	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return "", fmt.Errorf("knowledge: query: %w", err)
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(r.Content)
	}
	return sb.String(), nil
}

// CategoryK maps a message category to its retriever depth.
func CategoryK(category string) int {
	switch category {
	case "customer_complaint":
		return ComplaintK
	case "customer_feedback":
		return FeedbackK
	default:
		return ProductK
	}
}
