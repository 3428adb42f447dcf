// Package internet provides web search and page question answering.
//
// Search goes through the Brave Search API; view_page fetches a URL,
// strips it down to readable text, and asks the model to extract an
// answer from it.
package internet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ankleBowl/LucyServer/internal/capability"
	"github.com/ankleBowl/LucyServer/internal/message"
)

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"
	userAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.4 Safari/605.1.15"

	resultCount = 5
	// maxPageBytes caps how much of a page is read before extraction.
	maxPageBytes = 2 << 20

	extractorSystemPrompt = "You extract answers to questions from web pages. Do not reply in complete sentences, instead just return the answer and a quote from the page."
)

// Module implements the internet capability.
type Module struct {
	ctx        *capability.Context
	httpClient *http.Client
	apiKey     string

	// Endpoint overrides for tests.
	searchURL string
}

// New constructs the module.
func New() capability.Module {
	return &Module{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		searchURL:  braveEndpoint,
	}
}

func (m *Module) Name() string { return "internet" }

func (m *Module) Setup(c *capability.Context) error {
	m.ctx = c
	var cfg struct {
		APIKey string `json:"api_key"`
	}
	if err := c.Settings.Load("brave_api_key", map[string]string{"api_key": ""}, &cfg); err != nil {
		return fmt.Errorf("load brave settings: %w", err)
	}
	m.apiKey = cfg.APIKey
	return nil
}

func (m *Module) Functions() []capability.Function {
	return []capability.Function{
		{
			Name:        "search",
			Description: "Searches the internet for the given query and returns a list of URL results.",
			Args:        []string{"query"},
			Handler:     m.handleSearch,
		},
		{
			Name:        "view_page",
			Description: "Gets a natural language answer to the specified question from the given URL. If the question is none, a summary of the page is returned.",
			Args:        []string{"url", "question"},
			Handler:     m.handleViewPage,
		},
	}
}

// searchResult is one entry returned to the model.
type searchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// braveResponse is the JSON response from Brave's web search API.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

func (m *Module) handleSearch(ctx context.Context, args map[string]any) (any, error) {
	if m.apiKey == "" {
		return "Brave API key is not set. Ask the user to add it to their settings.", nil
	}
	query, ok := capability.StringArg(args, "query")
	if !ok || query == "" {
		return map[string]string{"error": "query is required."}, nil
	}

	params := url.Values{
		"q":             {query},
		"count":         {strconv.Itoa(resultCount)},
		"result_filter": {"web"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	results := make([]searchResult, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL})
	}
	return results, nil
}

func (m *Module) handleViewPage(ctx context.Context, args map[string]any) (any, error) {
	pageURL, ok := capability.StringArg(args, "url")
	if !ok || pageURL == "" {
		return map[string]string{"error": "url is required."}, nil
	}
	question, _ := capability.StringArg(args, "question")
	if question == "" {
		question = "Summarize the content of this page"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return map[string]string{"error": fmt.Sprintf("Invalid URL: %v", err)}, nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return map[string]string{"error": fmt.Sprintf("Failed to fetch page: %v", err)}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return map[string]string{"error": fmt.Sprintf("Failed to fetch page: %d", resp.StatusCode)}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return map[string]string{"error": fmt.Sprintf("Failed to read page: %v", err)}, nil
	}

	text := extractReadable(string(raw))

	prompt := fmt.Sprintf("# Page Contents\n%s\n\n# Question\n%s\n\n", text, question)
	answer, err := m.ctx.Chat.Chat(ctx, []message.Wire{
		{Role: "system", Content: extractorSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("extract answer: %w", err)
	}

	return map[string]string{
		"extracted_answer": answer,
		"source":           pageURL,
		"note":             "Remember to reiterate the answer for the user.",
	}, nil
}
