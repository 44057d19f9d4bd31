package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

const clientTimeout = 30 * time.Second

// client talks to a running recalld server. Collection operations go
// through a PassthroughBackend so the CLI speaks the same wire contract
// as a chained server; chat operations use the /api/v1 routes directly.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	vectors *vectorstore.PassthroughBackend
}

func newClient(ctx context.Context) (*client, error) {
	vectors := vectorstore.NewPassthroughBackend(nil)
	err := vectors.Initialize(ctx, vectorstore.BackendConfig{
		Kind: vectorstore.KindPassthrough,
		Passthrough: vectorstore.PassthroughConfig{
			URL:     serverURL,
			APIKey:  apiKey,
			Timeout: clientTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	return &client{
		baseURL: strings.TrimRight(serverURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: clientTimeout},
		vectors: vectors,
	}, nil
}

func (c *client) Close() error {
	return c.vectors.Close()
}

// do sends in as JSON and decodes a 2xx response into out.
func (c *client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		reqJSON, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqJSON)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		var er vectorstore.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return fmt.Errorf("server returned status %d: %s", resp.StatusCode, er.Error)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readInput reads a file, or stdin when name is empty or "-".
func readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return content, nil
}
