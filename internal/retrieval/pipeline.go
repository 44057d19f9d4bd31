// Package retrieval selects stored chat memories for the next generation
// turn and rearranges the live chat around them.
//
// A retrieval builds a query from the newest messages, asks the active
// backend for similar chunks, reweights them by age and importance, then
// moves the matching messages out of the live chat into one injected
// block in the host's extension-prompt slot.
package retrieval

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	"github.com/fyrsmithlabs/recalld/internal/host"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

var tracer = otel.Tracer("recalld.retrieval")

// Reasons a result was left out of the injected block.
const (
	ExcludedBelowThreshold = "below_threshold"
	ExcludedDuplicate      = "duplicate"
	ExcludedProtected      = "protected"
	ExcludedNotInChat      = "not_in_chat"
)

// TraceEntry records how one result was scored.
type TraceEntry struct {
	Hash          string  `json:"hash"`
	Collection    string  `json:"collectionId"`
	MessageIndex  int     `json:"messageIndex"`
	OriginalScore float64 `json:"originalScore"`
	DecayedScore  float64 `json:"decayedScore"`
	FinalScore    float64 `json:"finalScore"`
	Importance    int     `json:"importance"`
	Tier          string  `json:"tier"`
	Excluded      string  `json:"excluded,omitempty"`
}

// Trace explains a retrieval.
type Trace struct {
	Query   string       `json:"query"`
	Entries []TraceEntry `json:"entries"`
}

// Outcome is the result of one retrieval.
type Outcome struct {
	// Chat is the live chat with the injected messages removed.
	Chat []host.Message `json:"chat"`

	// Injected holds the selected results, most relevant first.
	Injected []vectorstore.RetrievalResult `json:"injected"`

	// Prompt is the text written to the extension-prompt slot, empty when
	// the slot was cleared.
	Prompt string `json:"prompt"`

	Trace Trace `json:"trace"`
}

// Pipeline runs retrievals against the active backend.
type Pipeline struct {
	backends vectorsync.BackendProvider
	embedder vectorstore.Embedder
	cfg      Config
	logger   *logging.Logger
}

// NewPipeline creates a Pipeline. embedder may be nil, in which case the
// backend embeds the query text itself.
func NewPipeline(backends vectorsync.BackendProvider, embedder vectorstore.Embedder, cfg Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		backends: backends,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.Named("retrieval"),
	}
}

// Option adjusts a single retrieval.
type Option func(*options)

type options struct {
	vector []float32
}

// WithQueryVector skips query embedding and searches with v.
func WithQueryVector(v []float32) Option {
	return func(o *options) {
		o.vector = v
	}
}

// candidate is a result moving through the ranking stages.
type candidate struct {
	result     vectorstore.RetrievalResult
	message    *host.Message
	importance int
	decayed    float64
	final      float64
	tier       Tier
	excluded   string
}

// Rearrange retrieves memories for the host's current chat, writes them to
// the extension-prompt slot and returns the chat without the injected
// messages. Failures are logged and leave the chat unchanged with the slot
// cleared.
func (p *Pipeline) Rearrange(ctx context.Context, h host.Host, opts ...Option) Outcome {
	start := time.Now()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	chat := h.Messages()
	out := Outcome{Chat: chat, Injected: []vectorstore.RetrievalResult{}}

	if !p.cfg.Enabled {
		RetrievalsTotal.WithLabelValues("disabled").Inc()
		return out
	}

	chatID := h.ChatID()
	if chatID == "" {
		RetrievalsTotal.WithLabelValues("skipped").Inc()
		h.ClearExtensionPrompt(PromptTag)
		return out
	}

	key := collection.ChatKey(chatID)
	ctx = logging.WithOperation(logging.WithChatID(ctx, chatID), "retrieve")
	ctx = logging.WithCollectionID(ctx, collection.Encode(key))

	ctx, span := tracer.Start(ctx, "Pipeline.Rearrange")
	defer span.End()
	span.SetAttributes(attribute.String("collection.id", collection.Encode(key)))

	query := BuildQuery(h, chat, p.cfg.Query)
	out.Trace.Query = query
	if query == "" && len(o.vector) == 0 {
		RetrievalsTotal.WithLabelValues("skipped").Inc()
		h.ClearExtensionPrompt(PromptTag)
		return out
	}

	candidates, err := p.search(ctx, key, query, o.vector)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, "retrieval failed", zap.Error(err))
		RetrievalsTotal.WithLabelValues("error").Inc()
		h.ClearExtensionPrompt(PromptTag)
		return out
	}

	selected := p.rank(h, chat, candidates)
	out.Trace.Entries = traceEntries(candidates)

	if len(selected) == 0 {
		h.ClearExtensionPrompt(PromptTag)
		RetrievalsTotal.WithLabelValues("empty").Inc()
		RetrievalDuration.Observe(time.Since(start).Seconds())
		return out
	}

	out.Chat = removeMessages(chat, selected)
	out.Prompt = p.render(selected)
	for _, c := range selected {
		out.Injected = append(out.Injected, c.result)
		p.logger.Trace(ctx, "memory selected",
			zap.String("hash", c.result.Hash),
			zap.String("collection", c.result.Collection),
			zap.Float64("score", c.final),
			zap.String("tier", c.tier.String()),
		)
	}
	h.SetExtensionPrompt(PromptTag, out.Prompt, p.cfg.Position, p.cfg.Depth)

	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(candidates)),
		attribute.Int("retrieval.injected", len(selected)),
	)
	RetrievalsTotal.WithLabelValues("injected").Inc()
	InjectedResults.Observe(float64(len(selected)))
	RetrievalDuration.Observe(time.Since(start).Seconds())

	p.logger.Debug(ctx, "memories injected",
		zap.Int("candidates", len(candidates)),
		zap.Int("injected", len(selected)),
	)
	return out
}

// BuildQuery joins the newest n non-system messages, newest first.
func BuildQuery(h host.Host, chat []host.Message, n int) string {
	parts := make([]string, 0, n)
	for i := len(chat) - 1; i >= 0 && len(parts) < n; i-- {
		m := chat[i]
		if m.IsSystem {
			continue
		}
		text := strings.TrimSpace(h.Substitute(m.Text))
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// search queries the chat collection and any extra collections.
func (p *Pipeline) search(ctx context.Context, key collection.TenantKey, query string, vector []float32) ([]*candidate, error) {
	backend, err := p.backends.Backend(ctx)
	if err != nil {
		return nil, err
	}

	q := vectorstore.Query{Text: query, Vector: vector}
	if len(q.Vector) == 0 && p.embedder != nil {
		v, err := p.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		q.Vector = v
	}

	results, err := backend.Query(ctx, key, q, p.cfg.Insert)
	if err != nil {
		return nil, err
	}

	candidates := make([]*candidate, 0, len(results))
	for _, r := range results {
		c := &candidate{result: r}
		if r.OriginalScore < p.cfg.ScoreThreshold {
			c.excluded = ExcludedBelowThreshold
		}
		candidates = append(candidates, c)
	}

	if len(p.cfg.ExtraCollections) > 0 && query != "" {
		extra := backend.QueryMany(ctx, p.cfg.ExtraCollections, query, p.cfg.Insert, p.cfg.ScoreThreshold)
		for _, k := range p.cfg.ExtraCollections {
			for _, r := range extra[collection.Encode(k)] {
				candidates = append(candidates, &candidate{result: r})
			}
		}
	}
	return candidates, nil
}

// rank scores, orders, dedupes and filters candidates, returning the ones
// to inject in injection order.
func (p *Pipeline) rank(h host.Host, chat []host.Message, candidates []*candidate) []*candidate {
	chatCollection := collection.Encode(collection.ChatKey(h.ChatID()))

	// Latest live message per hash, and its position in the chat.
	byHash := make(map[string]int, len(chat))
	for i, m := range chat {
		if m.IsSystem {
			continue
		}
		byHash[vectorsync.ItemHash(h.Substitute(m.Text))] = i
	}

	newest := 0
	if len(chat) > 0 {
		newest = chat[len(chat)-1].Index
	}
	protectFrom := len(chat) - p.cfg.Protect

	for _, c := range candidates {
		c.importance = c.result.Metadata.ImportanceValue()
		c.decayed = c.result.OriginalScore

		fromChat := c.result.Collection == "" || c.result.Collection == chatCollection
		if fromChat {
			pos, ok := byHash[c.result.Hash]
			if !ok {
				if c.excluded == "" {
					c.excluded = ExcludedNotInChat
				}
			} else {
				m := chat[pos]
				c.message = &m
				if m.Importance != nil {
					c.importance = *m.Importance
				}
				c.decayed = ApplyDecay(c.result.OriginalScore, newest-m.Index, p.cfg.Decay)
				if c.excluded == "" && pos >= protectFrom {
					c.excluded = ExcludedProtected
				}
			}
		}

		c.final = c.decayed
		if p.cfg.Importance.Enabled {
			c.final = ApplyImportance(c.decayed, c.importance)
		}
		c.tier = TierOf(c.importance)
		c.result.Score = c.final
	}

	ordered := append([]*candidate(nil), candidates...)
	if p.cfg.Importance.Enabled && p.cfg.Importance.Tiered {
		rankTiered(ordered)
	} else {
		rankByScore(ordered)
	}

	seen := make(map[string]bool, len(ordered))
	selected := make([]*candidate, 0, len(ordered))
	for _, c := range ordered {
		if c.excluded == ExcludedBelowThreshold {
			continue
		}
		if seen[c.result.Hash] {
			c.excluded = ExcludedDuplicate
			continue
		}
		seen[c.result.Hash] = true
		if c.excluded != "" {
			continue
		}
		selected = append(selected, c)
	}
	return selected
}

// render formats the selected texts through the template.
func (p *Pipeline) render(selected []*candidate) string {
	texts := make([]string, 0, len(selected))
	for _, c := range selected {
		if c.message != nil {
			texts = append(texts, c.message.Text)
		} else {
			texts = append(texts, c.result.Text)
		}
	}
	return strings.ReplaceAll(p.cfg.Template, TextPlaceholder, strings.Join(texts, "\n\n"))
}

// removeMessages returns chat without the messages backing selected.
func removeMessages(chat []host.Message, selected []*candidate) []host.Message {
	drop := make(map[int]bool, len(selected))
	for _, c := range selected {
		if c.message != nil {
			drop[c.message.Index] = true
		}
	}

	out := make([]host.Message, 0, len(chat))
	for _, m := range chat {
		if !drop[m.Index] {
			out = append(out, m)
		}
	}
	return out
}

func traceEntries(candidates []*candidate) []TraceEntry {
	entries := make([]TraceEntry, 0, len(candidates))
	for _, c := range candidates {
		idx := -1
		if c.message != nil {
			idx = c.message.Index
		}
		entries = append(entries, TraceEntry{
			Hash:          c.result.Hash,
			Collection:    c.result.Collection,
			MessageIndex:  idx,
			OriginalScore: c.result.OriginalScore,
			DecayedScore:  c.decayed,
			FinalScore:    c.final,
			Importance:    c.importance,
			Tier:          c.tier.String(),
			Excluded:      c.excluded,
		})
	}
	return entries
}
