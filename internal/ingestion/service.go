package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/knoguchi/rerank-rag/internal/embedder"
	"github.com/knoguchi/rerank-rag/internal/vectorstore"
)

var (
	// ErrNoDocuments is returned when a path yields no readable text.
	ErrNoDocuments = errors.New("no documents found")

	// ErrPathNotFound is returned when the ingest path does not exist.
	ErrPathNotFound = errors.New("path not found")
)

const defaultUpsertBatchSize = 64

// Store is the subset of the vector store used for writing.
type Store interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
}

// Config configures a Service.
type Config struct {
	Chunker         ChunkerConfig
	Patterns        []string
	Excludes        []string
	UpsertBatchSize int
	Logger          *slog.Logger
}

// Result summarizes one ingest call.
type Result struct {
	Collection         string
	DocumentsProcessed int
	ChunksIndexed      int
}

// Service ingests files into collections.
type Service struct {
	embedder  embedder.Embedder
	store     Store
	chunker   *Chunker
	walker    *Walker
	batchSize int
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(emb embedder.Embedder, store Store, cfg Config) *Service {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	excludes := cfg.Excludes
	if excludes == nil {
		excludes = DefaultExcludes
	}
	batchSize := cfg.UpsertBatchSize
	if batchSize <= 0 {
		batchSize = defaultUpsertBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		embedder:  emb,
		store:     store,
		chunker:   NewChunker(cfg.Chunker),
		walker:    NewWalker(patterns, excludes),
		batchSize: batchSize,
		logger:    logger,
	}
}

// Ingest reads every matching file under path (or path itself when it is a
// file), and writes its chunks to collection, creating the collection on
// first write. Files without text are skipped.
func (s *Service) Ingest(ctx context.Context, path, collection string) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: file_path is required", ErrPathNotFound)
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is required")
	}

	files, err := s.walker.Walk(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}

	result := &Result{Collection: collection}
	ensured := false

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, ok, err := s.load(file)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		chunks := s.chunker.Chunk(doc.content)
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", doc.name, err)
		}
		if len(vectors) != len(chunks) {
			return nil, fmt.Errorf("embed %s: got %d vectors for %d chunks", doc.name, len(vectors), len(chunks))
		}

		if !ensured {
			if err := s.ensureCollection(ctx, collection, len(vectors[0])); err != nil {
				return nil, err
			}
			ensured = true
		}

		points := make([]vectorstore.Point, len(chunks))
		for i, c := range chunks {
			points[i] = vectorstore.Point{
				ID:      uuid.NewString(),
				Vector:  vectors[i],
				Content: c.Content,
				Metadata: map[string]any{
					"file_name":    doc.name,
					"file_path":    doc.path,
					"document_id":  doc.id,
					"content_hash": doc.hash,
					"chunk_index":  c.Index,
					"word_count":   c.WordCount,
				},
			}
		}

		for lo := 0; lo < len(points); lo += s.batchSize {
			hi := min(lo+s.batchSize, len(points))
			if err := s.store.Upsert(ctx, collection, points[lo:hi]); err != nil {
				return nil, fmt.Errorf("upsert %s: %w", doc.name, err)
			}
		}

		result.DocumentsProcessed++
		result.ChunksIndexed += len(chunks)

		s.logger.Debug("document_ingested",
			slog.String("file", doc.path),
			slog.Int("chunk_count", len(chunks)))
	}

	if result.DocumentsProcessed == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoDocuments, path)
	}

	s.logger.Info("ingestion_completed",
		slog.String("collection", collection),
		slog.Int("documents_processed", result.DocumentsProcessed),
		slog.Int("chunks_indexed", result.ChunksIndexed),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return result, nil
}

type document struct {
	id      string
	name    string
	path    string
	hash    string
	content string
}

// load reads a file as text. ok is false for empty or binary files.
func (s *Service) load(path string) (document, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		s.logger.Warn("skipping_non_text_file", slog.String("file", path))
		return document{}, false, nil
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return document{}, false, nil
	}

	return document{
		id:      uuid.NewString(),
		name:    filepath.Base(path),
		path:    path,
		hash:    hashContent(content),
		content: content,
	}, true, nil
}

// ensureCollection creates the collection when missing. A concurrent
// creator winning the race is not an error.
func (s *Service) ensureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.store.CreateCollection(ctx, collection, dimension); err != nil {
		if exists, checkErr := s.store.CollectionExists(ctx, collection); checkErr == nil && exists {
			return nil
		}
		return err
	}

	s.logger.Info("collection_created",
		slog.String("collection", collection),
		slog.Int("dimension", dimension))
	return nil
}

// hashContent returns the hex SHA-256 of content.
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
