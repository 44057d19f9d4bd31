package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/collection"
	httpserver "github.com/fyrsmithlabs/recalld/internal/http"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var (
	queryChat        string
	queryCollections []string
	queryTopK        int
	queryThreshold   float64

	purgeCollection string
	purgeConfirm    bool
)

func init() {
	queryCmd.Flags().StringVar(&queryChat, "chat", "", "chat id to search")
	queryCmd.Flags().StringSliceVar(&queryCollections, "collection", nil, "collection id to search (repeatable)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "maximum results per collection")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "minimum similarity score")

	purgeCmd.Flags().StringVar(&purgeCollection, "collection", "", "purge a collection id instead of a chat")
	purgeAllCmd.Flags().BoolVar(&purgeConfirm, "confirm", false, "confirm removal of every collection")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(purgeAllCmd)
	rootCmd.AddCommand(healthCmd)
}

// queryCmd searches stored messages
var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search stored messages",
	Long: `Search one or more collections on the recalld server.

Examples:
  # Search a chat
  recalld query --chat c1 "the dragon"

  # Search a chat and a lorebook together
  recalld query --collection recalld_chat_c1 --collection recalld_lorebook_world "dragons"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// purgeCmd removes one chat's vectors
var purgeCmd = &cobra.Command{
	Use:   "purge [chatId]",
	Short: "Remove the stored vectors of a chat",
	Long: `Remove every stored vector of one chat, or of one collection with
--collection. Other chats are untouched.

Examples:
  recalld purge c1
  recalld purge --collection recalld_lorebook_world`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPurge,
}

// purgeAllCmd removes every collection
var purgeAllCmd = &cobra.Command{
	Use:   "purge-all",
	Short: "Remove every stored vector",
	Long: `Remove every collection from the active backend. This cannot be
undone and requires --confirm.

Example:
  recalld purge-all --confirm`,
	Args: cobra.NoArgs,
	RunE: runPurgeAll,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check recalld server health",
	Long: `Check the health status of the recalld server and its backend.

Examples:
  # Check health
  recalld health

  # Check health on a different server
  recalld health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

// queryKeys resolves the --chat and --collection flags.
func queryKeys() ([]collection.TenantKey, error) {
	var keys []collection.TenantKey
	if queryChat != "" {
		keys = append(keys, collection.ChatKey(queryChat))
	}
	for _, id := range queryCollections {
		key := collection.Decode(id)
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("collection %q: %w", id, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("--chat or --collection is required")
	}
	return keys, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	keys, err := queryKeys()
	if err != nil {
		return err
	}
	if queryTopK <= 0 {
		return fmt.Errorf("--top-k must be positive, got %d", queryTopK)
	}
	text := strings.Join(args, " ")

	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if len(keys) == 1 {
		results, err := c.vectors.Query(cmd.Context(), keys[0], vectorstore.Query{Text: text}, queryTopK)
		if err != nil {
			return err
		}
		kept := results[:0]
		for _, r := range results {
			if r.Score >= queryThreshold {
				kept = append(kept, r)
			}
		}
		printResults(out, collection.Encode(keys[0]), kept)
		return nil
	}

	byCollection := c.vectors.QueryMany(cmd.Context(), keys, text, queryTopK, queryThreshold)
	for _, key := range keys {
		id := collection.Encode(key)
		printResults(out, id, byCollection[id])
	}
	return nil
}

func printResults(out io.Writer, collectionID string, results []vectorstore.RetrievalResult) {
	fmt.Fprintf(out, "%s: %d result(s)\n", collectionID, len(results))
	for _, r := range results {
		fmt.Fprintf(out, "  %.3f  %s  %s\n", r.Score, r.Hash, oneLine(r.Text, 80))
	}
}

// oneLine flattens text and cuts it to n runes.
func oneLine(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func runPurge(cmd *cobra.Command, args []string) error {
	var key collection.TenantKey
	switch {
	case purgeCollection != "" && len(args) > 0:
		return errors.New("pass a chat id or --collection, not both")
	case purgeCollection != "":
		key = collection.Decode(purgeCollection)
		if err := key.Validate(); err != nil {
			return fmt.Errorf("collection %q: %w", purgeCollection, err)
		}
	case len(args) > 0:
		key = collection.ChatKey(args[0])
	default:
		return errors.New("chat id or --collection is required")
	}

	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if key.Type == collection.SourceDocument {
		err = vectorstore.PurgeFile(cmd.Context(), c.vectors, key)
	} else {
		err = c.vectors.Purge(cmd.Context(), key)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %s\n", collection.Encode(key))
	return nil
}

func runPurgeAll(cmd *cobra.Command, _ []string) error {
	if !purgeConfirm {
		return fmt.Errorf("%w: pass --confirm", vectorstore.ErrPurgeNotConfirmed)
	}

	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.vectors.PurgeAll(cmd.Context(), vectorstore.ConfirmPurgeAll); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Purged all collections")
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	var health httpserver.HealthResponse
	if err := c.do(cmd.Context(), http.MethodGet, "/health", nil, &health); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	fmt.Fprintf(out, "Backend:       %s\n", health.Backend)

	var backend httpserver.BackendResponse
	if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/backend", nil, &backend); err != nil {
		return err
	}
	fmt.Fprintf(out, "Embeddings:    %s\n", backend.EmbeddingSource)

	if health.Status != "ok" {
		return fmt.Errorf("server is %s", health.Status)
	}
	return nil
}
