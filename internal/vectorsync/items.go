package vectorsync

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/fyrsmithlabs/recalld/internal/host"
)

// Item is one synchronizable message after substitution.
type Item struct {
	Hash       string
	Text       string
	Index      int
	Timestamp  int64
	Importance *int
}

// ItemHash returns the identity of a message text: the decimal xxhash64
// of the text. Identical texts share a hash and are stored once.
func ItemHash(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 10)
}

// Items enumerates the live messages eligible for the index, in chat
// order. System messages and messages that are blank after substitution
// are skipped.
func Items(h host.Host) []Item {
	msgs := h.Messages()
	items := make([]Item, 0, len(msgs))
	for _, m := range msgs {
		if m.IsSystem {
			continue
		}
		text := h.Substitute(m.Text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		items = append(items, Item{
			Hash:       ItemHash(text),
			Text:       text,
			Index:      m.Index,
			Timestamp:  m.Timestamp,
			Importance: m.Importance,
		})
	}
	return items
}

// Diff compares live items against stored hashes.
//
// newItems keeps chat order and holds each live hash once. deleted lists
// stored hashes with no live item, in no particular order.
func Diff(items []Item, stored map[string]struct{}) (newItems []Item, deleted []string) {
	live := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := live[it.Hash]; dup {
			continue
		}
		live[it.Hash] = struct{}{}
		if _, ok := stored[it.Hash]; !ok {
			newItems = append(newItems, it)
		}
	}

	for h := range stored {
		if _, ok := live[h]; !ok {
			deleted = append(deleted, h)
		}
	}
	return newItems, deleted
}
