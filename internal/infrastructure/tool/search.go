package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	domaintool "github.com/tetherhq/tether/gateway/internal/domain/tool"
	"go.uber.org/zap"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// SearchWebTool queries the DuckDuckGo instant-answer API. No API key needed,
// which also means the results are shallow: abstract, answer, related topics.
type SearchWebTool struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewSearchWebTool creates the web search tool.
func NewSearchWebTool(logger *zap.Logger) *SearchWebTool {
	return &SearchWebTool{
		baseURL: "https://api.duckduckgo.com",
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (t *SearchWebTool) Name() string {
	return "search_web"
}

func (t *SearchWebTool) Description() string {
	return "Search the web using DuckDuckGo (no API key required)."
}

func (t *SearchWebTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
		},
		"required": []string{"query"},
	}
}

// relatedTopic mirrors the instant-answer API shape: leaf topics carry
// Text/Result, category topics nest more topics.
type relatedTopic struct {
	Text   string         `json:"Text"`
	Result string         `json:"Result"`
	Topics []relatedTopic `json:"Topics"`
}

type instantAnswer struct {
	Abstract      string         `json:"Abstract"`
	AbstractText  string         `json:"AbstractText"`
	Answer        string         `json:"Answer"`
	RelatedTopics []relatedTopic `json:"RelatedTopics"`
}

func (t *SearchWebTool) Execute(ctx context.Context, args map[string]interface{}) *domaintool.Result {
	query, _ := args["query"].(string)
	if query == "" {
		return domaintool.Errorf("No query provided.")
	}

	t.logger.Debug("Searching web", zap.String("query", query))

	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", t.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domaintool.Errorf("Failed to search: " + err.Error())
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return domaintool.Errorf("Failed to search: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domaintool.Errorf(fmt.Sprintf("Failed to search: status %d", resp.StatusCode))
	}

	var answer instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return domaintool.Errorf("Failed to search: " + err.Error())
	}

	var sections []string

	// The API fills either Abstract or AbstractText depending on the query.
	abstract := answer.AbstractText
	if abstract == "" {
		abstract = answer.Abstract
	}
	if abstract != "" {
		sections = append(sections, "**Summary**: "+abstract)
	}
	if answer.Answer != "" {
		sections = append(sections, "**Answer**: "+answer.Answer)
	}

	topics := answer.RelatedTopics
	if len(topics) > 3 {
		topics = topics[:3]
	}
	for _, topic := range topics {
		if text := topicText(topic); text != "" {
			sections = append(sections, "- "+text)
			continue
		}
		subs := topic.Topics
		if len(subs) > 2 {
			subs = subs[:2]
		}
		for _, sub := range subs {
			if text := topicText(sub); text != "" {
				sections = append(sections, "- "+text)
			}
		}
	}

	if len(sections) == 0 {
		return &domaintool.Result{Output: "No results found."}
	}
	return &domaintool.Result{Output: strings.Join(sections, "\n")}
}

func topicText(t relatedTopic) string {
	s := t.Text
	if s == "" {
		s = t.Result
	}
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}
