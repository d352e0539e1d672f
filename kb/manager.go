// Package kb implements the knowledge base: ingestion (fetch → extract
// → chunk → embed → upsert) and semantic retrieval over a chromem
// vector index. It also hosts the chat-message embedding index used by
// the backfill job.
package kb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/nevindra/lolo"
)

const (
	collectionKB       = "kb"
	collectionMessages = "messages"

	// MaxTopK caps retrieval width.
	MaxTopK = 10
)

// Result is one retrieval hit.
type Result struct {
	Text      string  `json:"text"`
	SourceURL string  `json:"source_url"`
	Title     string  `json:"title"`
	Distance  float32 `json:"distance"`
}

// Source describes one ingested document.
type Source struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Manager owns the vector index. Single writer; readers are safe
// concurrently with chromem's own locking. The source catalog is a JSON
// sidecar because chromem cannot enumerate documents.
type Manager struct {
	db       *chromem.DB
	embed    lolo.Embedder
	logger   *slog.Logger
	catalog  string // path of the sidecar file, empty for in-memory
	mu       sync.Mutex
	sources  map[string]Source
	kb       *chromem.Collection
	messages *chromem.Collection
}

// New opens (or creates) the index at dir. Empty dir keeps everything
// in memory, which the tests use.
func New(dir string, embed lolo.Embedder, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var db *chromem.DB
	var catalog string
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("kb: open index: %w", err)
		}
		catalog = filepath.Join(dir, "sources.json")
	}

	m := &Manager{
		db:      db,
		embed:   embed,
		logger:  logger,
		catalog: catalog,
		sources: make(map[string]Source),
	}

	embedOne := func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := embed.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
	var err error
	if m.kb, err = db.GetOrCreateCollection(collectionKB, nil, embedOne); err != nil {
		return nil, fmt.Errorf("kb: collection: %w", err)
	}
	if m.messages, err = db.GetOrCreateCollection(collectionMessages, nil, embedOne); err != nil {
		return nil, fmt.Errorf("kb: collection: %w", err)
	}

	if catalog != "" {
		if data, err := os.ReadFile(catalog); err == nil {
			if err := json.Unmarshal(data, &m.sources); err != nil {
				logger.Warn("kb: source catalog unreadable, starting empty", "error", err)
				m.sources = make(map[string]Source)
			}
		}
	}
	return m, nil
}

// chunkID builds the stable chunk id: kb_<hash(url)[:8]>_<index>.
func chunkID(sourceURL string, index int) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return "kb_" + hex.EncodeToString(sum[:])[:8] + "_" + strconv.Itoa(index)
}

// Learn ingests extracted text for a source URL. Returns the number of
// chunks stored. A URL that is already in the index is rejected; forget
// it first.
func (m *Manager) Learn(ctx context.Context, sourceURL, title, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sources[sourceURL]; exists {
		return 0, fmt.Errorf("kb: %s is already in the knowledge base; forget it before re-learning", sourceURL)
	}

	if title == "" {
		title = titleFromURL(sourceURL)
	}
	chunks := Chunk(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("kb: no content to ingest from %s", sourceURL)
	}

	vecs, err := m.embed.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("kb: embed chunks: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        chunkID(sourceURL, i),
			Content:   chunk,
			Embedding: vecs[i],
			Metadata: map[string]string{
				"source_url":   sourceURL,
				"title":        title,
				"chunk_index":  strconv.Itoa(i),
				"total_chunks": strconv.Itoa(len(chunks)),
			},
		}
	}
	if err := m.kb.AddDocuments(ctx, docs, 1); err != nil {
		return 0, fmt.Errorf("kb: upsert chunks: %w", err)
	}

	m.sources[sourceURL] = Source{
		URL:        sourceURL,
		Title:      title,
		Chunks:     len(chunks),
		IngestedAt: time.Now().UTC(),
	}
	m.saveCatalogLocked()
	m.logger.Info("kb: learned source", "url", sourceURL, "chunks", len(chunks))
	return len(chunks), nil
}

// Search embeds the query and returns up to topK hits. Empty results
// come back with a hint listing the available sources.
func (m *Manager) Search(ctx context.Context, query string, topK int) ([]Result, string, error) {
	if topK <= 0 || topK > MaxTopK {
		topK = MaxTopK
	}
	m.mu.Lock()
	n := m.kb.Count()
	m.mu.Unlock()
	if n == 0 {
		return nil, "The knowledge base is empty. Use kb_learn to add sources.", nil
	}
	if topK > n {
		topK = n
	}

	vecs, err := m.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, "", fmt.Errorf("kb: embed query: %w", err)
	}
	hits, err := m.kb.QueryEmbedding(ctx, vecs[0], topK, nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("kb: query: %w", err)
	}
	if len(hits) == 0 {
		return nil, m.availableHint(), nil
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Text:      h.Content,
			SourceURL: h.Metadata["source_url"],
			Title:     h.Metadata["title"],
			Distance:  1 - h.Similarity,
		}
	}
	return results, "", nil
}

// List returns the ingested sources sorted by ingestion time.
func (m *Manager) List() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Source, 0, len(m.sources))
	for key, s := range m.sources {
		if key == messageCheckpointKey {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.Before(out[j].IngestedAt) })
	return out
}

// Forget removes every chunk of a source URL.
func (m *Manager) Forget(ctx context.Context, sourceURL string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, exists := m.sources[sourceURL]
	if !exists {
		return 0, fmt.Errorf("kb: %s is not in the knowledge base", sourceURL)
	}
	if err := m.kb.Delete(ctx, map[string]string{"source_url": sourceURL}, nil); err != nil {
		return 0, fmt.Errorf("kb: delete chunks: %w", err)
	}
	delete(m.sources, sourceURL)
	m.saveCatalogLocked()
	m.logger.Info("kb: forgot source", "url", sourceURL, "chunks", src.Chunks)
	return src.Chunks, nil
}

func (m *Manager) availableHint() string {
	titles := make([]string, 0, len(m.sources))
	for key, s := range m.sources {
		if key == messageCheckpointKey {
			continue
		}
		titles = append(titles, s.Title)
	}
	sort.Strings(titles)
	if len(titles) == 0 {
		return "The knowledge base is empty. Use kb_learn to add sources."
	}
	return "No matching chunks. Available sources: " + strings.Join(titles, "; ")
}

// saveCatalogLocked writes the source catalog atomically (write to a
// temp file, then rename).
func (m *Manager) saveCatalogLocked() {
	if m.catalog == "" {
		return
	}
	data, err := json.MarshalIndent(m.sources, "", "  ")
	if err != nil {
		m.logger.Error("kb: marshal catalog", "error", err)
		return
	}
	tmp := m.catalog + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		m.logger.Error("kb: write catalog", "error", err)
		return
	}
	if err := os.Rename(tmp, m.catalog); err != nil {
		m.logger.Error("kb: replace catalog", "error", err)
	}
}

func titleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return raw
	}
	seg := u.Path
	seg = strings.TrimSuffix(seg, "/")
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	if seg == "" {
		return raw
	}
	return seg
}

// --- message index (backfill job target) ---

// LastIndexedID implements lolo.MessageIndexer. chromem cannot
// enumerate documents, so the checkpoint lives in the catalog map under
// a reserved key.
func (m *Manager) LastIndexedID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[messageCheckpointKey]; ok {
		if id, err := strconv.ParseInt(s.Title, 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, nil
}

// messageCheckpointKey is a reserved catalog entry holding the backfill
// checkpoint. It never collides with real URLs.
const messageCheckpointKey = "\x00messages:last_indexed"

// IndexMessages implements lolo.MessageIndexer.
func (m *Manager) IndexMessages(ctx context.Context, msgs []lolo.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	texts := make([]string, len(msgs))
	for i, msg := range msgs {
		texts[i] = fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Format("2006-01-02 15:04"), msg.Nick, msg.Content)
	}
	vecs, err := m.embed.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("kb: embed messages: %w", err)
	}
	docs := make([]chromem.Document, len(msgs))
	for i, msg := range msgs {
		docs[i] = chromem.Document{
			ID:        "msg_" + strconv.FormatInt(msg.ID, 10),
			Content:   texts[i],
			Embedding: vecs[i],
			Metadata: map[string]string{
				"channel": msg.Channel,
				"nick":    msg.Nick,
				"ts":      strconv.FormatInt(msg.Timestamp.Unix(), 10),
			},
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.messages.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("kb: upsert messages: %w", err)
	}
	m.sources[messageCheckpointKey] = Source{
		URL:   messageCheckpointKey,
		Title: strconv.FormatInt(msgs[len(msgs)-1].ID, 10),
	}
	m.saveCatalogLocked()
	return nil
}

// SearchMessages finds semantically similar chat lines in one channel.
func (m *Manager) SearchMessages(ctx context.Context, channel, query string, topK int) ([]string, error) {
	if topK <= 0 || topK > MaxTopK {
		topK = MaxTopK
	}
	m.mu.Lock()
	n := m.messages.Count()
	m.mu.Unlock()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	vecs, err := m.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("kb: embed query: %w", err)
	}
	var where map[string]string
	if channel != "" {
		where = map[string]string{"channel": channel}
	}
	hits, err := m.messages.QueryEmbedding(ctx, vecs[0], topK, where, nil)
	if err != nil {
		// chromem rejects nResults > matching docs; treat as no results.
		return nil, nil
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = h.Content
	}
	return lines, nil
}
