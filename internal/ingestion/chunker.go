// Package ingestion loads local documents into a vector collection: files
// are matched, read, chunked, embedded and upserted.
package ingestion

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/knoguchi/rerank-rag/internal/config"
)

// Chunking methods.
const (
	MethodFixed    = "fixed"
	MethodSentence = "sentence"
)

// ChunkerConfig controls chunk sizes. Sizes are word counts, a cheap proxy
// for tokens.
type ChunkerConfig struct {
	Method     string
	TargetSize int
	MaxSize    int
	Overlap    int
}

// DefaultChunkerConfig returns the defaults used when no configuration is given.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Method:     MethodSentence,
		TargetSize: 512,
		MaxSize:    1024,
		Overlap:    50,
	}
}

// ChunkerConfigFrom reads the chunk settings of the service configuration.
func ChunkerConfigFrom(cfg *config.Config) ChunkerConfig {
	return ChunkerConfig{
		Method:     cfg.ChunkMethod,
		TargetSize: cfg.ChunkSize,
		MaxSize:    cfg.ChunkMaxSize,
		Overlap:    cfg.ChunkOverlap,
	}
}

// Validate checks the configuration for inconsistent sizes.
func (c ChunkerConfig) Validate() error {
	switch c.Method {
	case "", MethodFixed, MethodSentence:
	default:
		return fmt.Errorf("invalid chunking method: %s (valid: fixed, sentence)", c.Method)
	}
	if c.TargetSize < 0 || c.MaxSize < 0 || c.Overlap < 0 {
		return fmt.Errorf("chunk sizes cannot be negative")
	}
	if c.TargetSize > 0 && c.MaxSize > 0 && c.TargetSize > c.MaxSize {
		return fmt.Errorf("target_size (%d) cannot be greater than max_size (%d)", c.TargetSize, c.MaxSize)
	}
	if c.Overlap > 0 && c.TargetSize > 0 && c.Overlap >= c.TargetSize {
		return fmt.Errorf("overlap (%d) must be less than target_size (%d)", c.Overlap, c.TargetSize)
	}
	return nil
}

// Chunk is one piece of a document.
type Chunk struct {
	Content   string
	Index     int
	WordCount int
}

// Chunker splits text into overlapping chunks.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a Chunker, filling unset sizes with defaults. Zero
// overlap is kept as given; a negative overlap, or one not below TargetSize,
// falls back to the default clamped to half the target.
func NewChunker(config ChunkerConfig) *Chunker {
	def := DefaultChunkerConfig()
	if config.TargetSize <= 0 {
		config.TargetSize = def.TargetSize
	}
	if config.MaxSize < config.TargetSize {
		config.MaxSize = 2 * config.TargetSize
	}
	if config.Overlap < 0 || config.Overlap >= config.TargetSize {
		config.Overlap = min(def.Overlap, config.TargetSize/2)
	}
	if config.Method == "" {
		config.Method = def.Method
	}
	return &Chunker{config: config}
}

// Chunk splits content using the configured method.
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if c.config.Method == MethodFixed {
		return c.chunkWords(strings.Fields(content), 0)
	}
	return c.chunkSentences(content)
}

// chunkWords emits windows of TargetSize words advancing by
// TargetSize-Overlap, numbering from startIndex.
func (c *Chunker) chunkWords(words []string, startIndex int) []Chunk {
	if len(words) == 0 {
		return nil
	}

	step := max(c.config.TargetSize-c.config.Overlap, 1)

	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := min(i+c.config.TargetSize, len(words))
		chunks = append(chunks, Chunk{
			Content:   strings.Join(words[i:end], " "),
			Index:     startIndex + len(chunks),
			WordCount: end - i,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// chunkSentences packs whole sentences until TargetSize words, carrying the
// trailing sentences into the next chunk as overlap. A sentence longer than
// MaxSize is split by words.
func (c *Chunker) chunkSentences(content string) []Chunk {
	var (
		chunks  []Chunk
		current []string
		words   int
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, " ")
		chunks = append(chunks, Chunk{
			Content:   text,
			Index:     len(chunks),
			WordCount: len(strings.Fields(text)),
		})
		current, words = c.sentenceOverlap(current)
	}

	for _, sentence := range splitSentences(content) {
		n := len(strings.Fields(sentence))

		if n > c.config.MaxSize {
			flush()
			current, words = nil, 0
			chunks = append(chunks, c.chunkWords(strings.Fields(sentence), len(chunks))...)
			continue
		}

		if words+n > c.config.MaxSize && words > 0 {
			flush()
		}

		current = append(current, sentence)
		words += n

		if words >= c.config.TargetSize {
			flush()
		}
	}

	// Whatever is left is either fresh text or pure overlap from the last flush.
	if len(current) > 0 && (len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1].Content, strings.Join(current, " "))) {
		flush()
	}

	return chunks
}

// sentenceOverlap returns the trailing sentences that hold at least Overlap words.
func (c *Chunker) sentenceOverlap(sentences []string) ([]string, int) {
	if c.config.Overlap <= 0 {
		return nil, 0
	}

	words := 0
	start := len(sentences)
	for start > 0 && words < c.config.Overlap {
		start--
		words += len(strings.Fields(sentences[start]))
	}
	if start == 0 {
		// Carrying everything would repeat the whole chunk.
		return nil, 0
	}
	return append([]string(nil), sentences[start:]...), words
}

// splitSentences splits text on . ! ? followed by whitespace or end of text.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		sentences []string
		current   strings.Builder
	)

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentence := strings.TrimSpace(current.String())
		if sentence != "" && !isAbbreviation(sentence) {
			sentences = append(sentences, sentence)
			current.Reset()
		}
	}

	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

var abbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.",
	"inc.", "ltd.", "corp.",
	"etc.", "e.g.", "i.e.",
	"vs.", "v.",
	"st.", "ave.", "blvd.",
	"no.", "vol.", "pg.",
}

// isAbbreviation reports whether the last word of text is a common abbreviation.
func isAbbreviation(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	last := strings.TrimLeft(fields[len(fields)-1], "(\"'")
	for _, abbr := range abbreviations {
		if last == abbr {
			return true
		}
	}
	return false
}
