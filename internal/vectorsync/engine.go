// Package vectorsync keeps a chat's vector index in step with the live
// chat. Each call diffs live message hashes against stored hashes,
// inserts a bounded batch of new messages and deletes every stale hash.
package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chunker"
	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/host"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var tracer = otel.Tracer("recalld.vectorsync")

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLockTimeout  = 5 * time.Second
	DefaultBatchSize    = 5
)

var (
	// ErrDisabled is returned when synchronization is switched off.
	ErrDisabled = errors.New("synchronization disabled")

	// ErrNoChat is returned when the host has no open chat.
	ErrNoChat = errors.New("no chat open")

	// ErrChatChanged aborts SynchronizeAll when the host switched chats
	// between batches.
	ErrChatChanged = errors.New("chat changed during synchronization")
)

// BackendProvider yields the active backend. *vectorstore.Registry
// satisfies it.
type BackendProvider interface {
	Backend(ctx context.Context) (vectorstore.Backend, error)
}

// Config controls synchronization.
type Config struct {
	Enabled bool

	// ChunkSize is the maximum chunk length in characters; 0 disables
	// splitting.
	ChunkSize int

	// Delimiters overrides chunker.DefaultDelimiters.
	Delimiters []string

	// BatchSize bounds how many new messages one call inserts.
	// Default: 5
	BatchSize int

	// PollInterval and LockTimeout shape the guard wait.
	// Defaults: 100ms and 5s
	PollInterval time.Duration
	LockTimeout  time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if len(c.Delimiters) == 0 {
		c.Delimiters = chunker.DefaultDelimiters
	}
}

// Result reports what one synchronization call did.
type Result struct {
	Inserted int `json:"inserted"`
	Chunks   int `json:"chunks"`
	Deleted  int `json:"deleted"`

	// Remaining is len(newItems) - batchSize; <= 0 means the chat is fully
	// indexed.
	Remaining int `json:"remaining"`
}

// Engine synchronizes host chats into the active backend. One Engine per
// process: its guard is what keeps synchronization single-flight.
type Engine struct {
	backends BackendProvider
	logger   *logging.Logger
	cfg      Config
	guard    *Guard
}

// NewEngine creates an Engine.
func NewEngine(backends BackendProvider, cfg Config, logger *logging.Logger) *Engine {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		backends: backends,
		logger:   logger.Named("vectorsync"),
		cfg:      cfg,
		guard:    NewGuard(cfg.PollInterval, cfg.LockTimeout),
	}
}

// Config returns the engine configuration with defaults applied.
func (e *Engine) Config() Config {
	return e.cfg
}

// Synchronize runs one batch for the host's current chat and returns the
// remaining backlog, or -1 when disabled, blocked or failed. Failures are
// logged; nothing is returned to the host.
func (e *Engine) Synchronize(ctx context.Context, h host.Host) int {
	res, err := e.Run(ctx, h)
	if err != nil {
		return -1
	}
	return res.Remaining
}

// Run is Synchronize with the outcome spelled out.
func (e *Engine) Run(ctx context.Context, h host.Host) (res Result, err error) {
	start := time.Now()
	defer func() {
		RunDuration.Observe(time.Since(start).Seconds())
		RunsTotal.WithLabelValues(runResult(err)).Inc()
	}()

	ctx = logging.WithOperation(ctx, "sync")
	res.Remaining = -1

	if !e.cfg.Enabled {
		return res, ErrDisabled
	}

	chatID := h.ChatID()
	if chatID == "" {
		return res, ErrNoChat
	}
	key := collection.ChatKey(chatID)
	collectionID := collection.Encode(key)
	ctx = logging.WithCollectionID(logging.WithChatID(ctx, chatID), collectionID)

	ctx, span := tracer.Start(ctx, "Engine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("collection.id", collectionID))

	if err := e.guard.Acquire(ctx, h.IsGenerating); err != nil {
		e.logger.Info(ctx, "synchronization skipped", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrBlocked) {
			return res, err
		}
		return res, fmt.Errorf("%w: %w", ErrBlocked, err)
	}
	defer e.guard.Release()

	res, err = e.runLocked(ctx, key, h)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, "synchronization failed", zap.Error(err))
		res.Remaining = -1
		return res, err
	}

	span.SetAttributes(
		attribute.Int("sync.inserted", res.Inserted),
		attribute.Int("sync.deleted", res.Deleted),
		attribute.Int("sync.remaining", res.Remaining),
	)
	return res, nil
}

func (e *Engine) runLocked(ctx context.Context, key collection.TenantKey, h host.Host) (Result, error) {
	var res Result

	backend, err := e.backends.Backend(ctx)
	if err != nil {
		return res, err
	}

	items := Items(h)

	stored, err := backend.SavedHashes(ctx, key)
	if err != nil {
		return res, err
	}

	newItems, deleted := Diff(items, stored)

	batch := newItems
	if len(batch) > e.cfg.BatchSize {
		batch = batch[:e.cfg.BatchSize]
	}

	if len(batch) > 0 {
		chunks := e.chunk(batch)
		e.logger.Trace(ctx, "inserting batch",
			zap.Int("items", len(batch)),
			zap.Int("chunks", len(chunks)),
		)
		if err := backend.InsertChunks(ctx, key, chunks); err != nil {
			return res, err
		}
		res.Inserted = len(batch)
		res.Chunks = len(chunks)
		ItemsInserted.Add(float64(len(batch)))
	}

	if len(deleted) > 0 {
		if err := backend.DeleteHashes(ctx, key, deleted); err != nil {
			e.logger.Warn(ctx, "deleting stale hashes failed",
				zap.Int("hashes", len(deleted)),
				zap.Error(err),
			)
		} else {
			res.Deleted = len(deleted)
			HashesDeleted.Add(float64(len(deleted)))
		}
	}

	res.Remaining = len(newItems) - e.cfg.BatchSize
	Backlog.Set(float64(max(res.Remaining, 0)))

	e.logger.Debug(ctx, "synchronization batch done",
		zap.Int("items", len(items)),
		zap.Int("stored", len(stored)),
		zap.Int("inserted", res.Inserted),
		zap.Int("chunks", res.Chunks),
		zap.Int("deleted", res.Deleted),
		zap.Int("remaining", res.Remaining),
	)
	return res, nil
}

// chunk splits each item and tags every piece with the item hash.
func (e *Engine) chunk(batch []Item) []vectorstore.Chunk {
	chunks := make([]vectorstore.Chunk, 0, len(batch))
	for _, it := range batch {
		pieces := chunker.Split(it.Text, e.cfg.ChunkSize, e.cfg.Delimiters)
		for i, p := range pieces {
			chunks = append(chunks, vectorstore.Chunk{
				Hash:  it.Hash,
				Text:  p,
				Index: i,
				Metadata: vectorstore.ChunkMetadata{
					Source:      collection.SourceChat,
					MessageID:   it.Index,
					ChunkIndex:  i,
					TotalChunks: len(pieces),
					Timestamp:   it.Timestamp,
					Importance:  it.Importance,
				},
			})
		}
	}
	return chunks
}

// SynchronizeAll runs batches until the chat is fully indexed. It stops
// with ErrChatChanged if the host switches chats between batches, and
// with the batch error if one fails. progress, when non-nil, is called
// after every batch.
func (e *Engine) SynchronizeAll(ctx context.Context, h host.Host, progress func(Result)) (Result, error) {
	var total Result

	chatID := h.ChatID()
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := e.Run(ctx, h)
		if err != nil {
			return total, err
		}
		total.Inserted += res.Inserted
		total.Chunks += res.Chunks
		total.Deleted += res.Deleted
		total.Remaining = res.Remaining

		if progress != nil {
			progress(res)
		}
		if h.ChatID() != chatID {
			e.logger.Warn(ctx, "chat changed, stopping synchronization",
				zap.String("chat.id", chatID),
				zap.String("operation", "syncAll"),
			)
			return total, ErrChatChanged
		}
		if res.Remaining <= 0 {
			return total, nil
		}
	}
}

func runResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrDisabled), errors.Is(err, ErrNoChat):
		return "disabled"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	default:
		return "error"
	}
}
