package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/recalld/internal/http"
)

var (
	syncAll       bool
	retrieveTrace bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "repeat batches until the chat is fully indexed")
	retrieveCmd.Flags().BoolVar(&retrieveTrace, "trace", false, "print the scoring trace as JSON")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(retrieveCmd)
}

// syncCmd indexes a chat
var syncCmd = &cobra.Command{
	Use:   "sync [chat.json]",
	Short: "Index a chat into the vector store",
	Long: `Send a chat to the recalld server for indexing.

The input is a JSON object with chatId, messages and optional macros, read
from a file or stdin. One call inserts at most batch_size new messages;
--all repeats until the chat is fully indexed.

Examples:
  # Index one batch
  recalld sync chat.json

  # Index everything from stdin
  cat chat.json | recalld sync --all -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

// retrieveCmd runs a retrieval for a chat
var retrieveCmd = &cobra.Command{
	Use:   "retrieve [chat.json]",
	Short: "Retrieve memories for a chat",
	Long: `Run a retrieval for a chat and print the prompt block the server
would inject.

Examples:
  recalld retrieve chat.json
  recalld retrieve --trace chat.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRetrieve,
}

func readChat(args []string) (httpserver.ChatRequest, error) {
	var name string
	if len(args) > 0 {
		name = args[0]
	}
	content, err := readInput(name)
	if err != nil {
		return httpserver.ChatRequest{}, err
	}
	if len(content) == 0 {
		return httpserver.ChatRequest{}, errors.New("no chat to send")
	}

	var chat httpserver.ChatRequest
	if err := json.Unmarshal(content, &chat); err != nil {
		return httpserver.ChatRequest{}, fmt.Errorf("failed to parse chat: %w", err)
	}
	if chat.ChatID == "" {
		return httpserver.ChatRequest{}, errors.New("chat has no chatId")
	}
	return chat, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	chat, err := readChat(args)
	if err != nil {
		return err
	}

	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	var resp httpserver.SyncResponse
	req := httpserver.SyncRequest{ChatRequest: chat, All: syncAll}
	if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/chats/sync", req, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Inserted: %d messages (%d chunks)\n", resp.Inserted, resp.Chunks)
	fmt.Fprintf(out, "Deleted:  %d stale hashes\n", resp.Deleted)
	fmt.Fprintf(out, "Pending:  %d messages\n", max(resp.Remaining, 0))
	return nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	chat, err := readChat(args)
	if err != nil {
		return err
	}

	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	var resp httpserver.RetrieveResponse
	req := httpserver.RetrieveRequest{ChatRequest: chat}
	if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/chats/retrieve", req, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if resp.Prompt == "" {
		fmt.Fprintln(out, "No memories retrieved")
	} else {
		fmt.Fprintf(out, "Position: %s (depth %d)\n", resp.Position, resp.Depth)
		for _, r := range resp.Injected {
			fmt.Fprintf(out, "  %.3f  %s\n", r.Score, r.Hash)
		}
		fmt.Fprintf(out, "\n%s\n", resp.Prompt)
	}

	if retrieveTrace {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Trace)
	}
	return nil
}
