// Package rewrite drives a remote text-generation model through the
// OpenRouter chat-completions API, with ranked candidate selection and
// ordered fallback when the configured model is "auto".
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Kamyshanskii/pdf-engine/config"
)

const (
	catalogTTL     = 300 * time.Second
	catalogTimeout = 30 * time.Second
	chatTimeout    = 120 * time.Second

	attemptCap   = 6
	defaultLimit = 8
	temperature  = 0.2
)

// defaultPrefer orders model-id prefixes from most to least preferred.
var defaultPrefer = []string{
	"deepseek/deepseek-chat",
	"deepseek/deepseek-r1",
	"openai/gpt-4o-mini",
	"google/gemini",
	"anthropic/claude",
}

// Model is a catalog entry returned by GET /models.
type Model struct {
	ID          string             `json:"id"`
	Endpoints   *[]json.RawMessage `json:"endpoints"`
	TopProvider json.RawMessage    `json:"top_provider"`
}

// endpointCount mirrors the provider contract: a missing endpoints field
// means the model is routable; an explicit empty list means it is not.
func (m Model) endpointCount() int {
	if m.Endpoints == nil {
		return 1
	}
	return len(*m.Endpoints)
}

func (m Model) topProvider() bool {
	s := strings.TrimSpace(string(m.TopProvider))
	switch s {
	case "", "null", "false", "{}":
		return false
	}
	return true
}

// catalogCache holds the fetched model catalog with its fetch timestamp.
// Owned by the Client; there is no process-wide catalog state.
type catalogCache struct {
	mu        sync.Mutex
	fetchedAt time.Time
	entries   []Model
}

// Client calls the rewrite provider. Safe for concurrent use.
type Client struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	referer  string
	title    string
	prefer   []string
	limit    int

	chatClient    *http.Client
	catalogClient *http.Client
	cache         catalogCache
	logger        *log.Logger
}

// New builds a Client from configuration. The provider may be disabled
// ("none"); the error surfaces on the first Rewrite call, not here.
func New(cfg config.LLMConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stdout, "[LLM] ", log.LstdFlags)
	}
	return &Client{
		provider:      strings.ToLower(strings.TrimSpace(cfg.Provider)),
		baseURL:       strings.TrimRight(cfg.OpenRouter.BaseURL, "/"),
		apiKey:        cfg.OpenRouter.APIKey,
		model:         strings.TrimSpace(cfg.OpenRouter.Model),
		referer:       cfg.OpenRouter.Referer,
		title:         cfg.OpenRouter.Title,
		prefer:        defaultPrefer,
		limit:         defaultLimit,
		chatClient:    &http.Client{Timeout: chatTimeout},
		catalogClient: &http.Client{Timeout: catalogTimeout},
		logger:        logger,
	}
}

// Message is a chat-completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Rewrite sends the prompts to the best available model and returns the
// output text together with the model id that produced it. Candidates are
// tried in ranked order; every failure moves on to the next candidate and
// exhausting them all returns the last error.
func (c *Client) Rewrite(ctx context.Context, systemPrompt, userPrompt string) (string, string, error) {
	switch c.provider {
	case "none":
		return "", "", errors.New("rewrite provider disabled (llm.provider=none)")
	case "openrouter":
	default:
		return "", "", fmt.Errorf("unsupported rewrite provider: %s", c.provider)
	}
	if c.apiKey == "" {
		return "", "", errors.New("openrouter api key is empty")
	}

	var candidates []string
	if c.model != "" && !strings.EqualFold(c.model, "auto") {
		candidates = []string{c.model}
	} else {
		var err error
		candidates, err = c.pickModels(ctx)
		if err != nil {
			return "", "", fmt.Errorf("model catalog: %w", err)
		}
	}
	if len(candidates) > attemptCap {
		candidates = candidates[:attemptCap]
	}

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var lastErr string
	for _, id := range candidates {
		out, err := c.postChat(ctx, id, messages)
		if err == nil {
			c.logger.Printf("rewrite ok model=%s chars=%d", id, len(out))
			return out, id, nil
		}
		lastErr = err.Error()
		if strings.Contains(lastErr, "No endpoints found") || strings.Contains(lastErr, `"code":404`) {
			c.logger.Printf("warn: model unavailable (trying next) model=%s err=%s", id, truncate(lastErr, 180))
			continue
		}
		c.logger.Printf("warn: rewrite call failed model=%s err=%s", id, truncate(lastErr, 180))
		continue
	}
	if lastErr == "" {
		lastErr = "rewrite failed: no model candidates"
	}
	return "", "", errors.New(lastErr)
}

func (c *Client) postChat(ctx context.Context, modelID string, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: modelID, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)

	resp, err := c.chatClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("openrouter error %d: %s", resp.StatusCode, truncate(string(body), 2000))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter response parse error: %s", truncate(string(body), 500))
	}
	return parsed.Choices[0].Message.Content, nil
}

// pickModels ranks the live catalog: entries with zero usable endpoints are
// dropped, prefix matches against the preference list score 1000-10*index,
// top-provider entries get +3, ids are de-duplicated and the list is capped.
func (c *Client) pickModels(ctx context.Context) ([]string, error) {
	models, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		score int
		id    string
	}
	var ranked []scored
	var allIDs []string
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		allIDs = append(allIDs, m.ID)
		if m.endpointCount() <= 0 {
			continue
		}
		score := 0
		for i, p := range c.prefer {
			if strings.HasPrefix(m.ID, p) {
				score = 1000 - i*10
				break
			}
		}
		if m.topProvider() {
			score += 3
		}
		ranked = append(ranked, scored{score: score, id: m.ID})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	seen := make(map[string]bool, len(ranked))
	var chosen []string
	for _, s := range ranked {
		if seen[s.id] {
			continue
		}
		seen[s.id] = true
		chosen = append(chosen, s.id)
		if len(chosen) >= c.limit {
			break
		}
	}
	if len(chosen) == 0 && len(allIDs) > 0 {
		if len(allIDs) > c.limit {
			allIDs = allIDs[:c.limit]
		}
		chosen = allIDs
	}
	return chosen, nil
}

// catalog fetches GET /models, caching the result for catalogTTL.
func (c *Client) catalog(ctx context.Context) ([]Model, error) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	if c.cache.entries != nil && time.Since(c.cache.fetchedAt) < catalogTTL {
		return c.cache.entries, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.catalogClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models endpoint status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	c.cache.fetchedAt = time.Now()
	c.cache.entries = parsed.Data
	return parsed.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
