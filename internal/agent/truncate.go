package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxToolOutputChars is the length above which a tool result's textual
// rendering is truncated before being appended to history.
const MaxToolOutputChars = 1500

// articlesPayload matches a tool result shaped like a news-search response:
// a JSON object carrying an "articles" array.
type articlesPayload struct {
	Articles []struct {
		Title string `json:"title"`
	} `json:"articles"`
}

// quotesPayload matches a tool result shaped like a market-data response: a
// JSON object carrying a "data" dict of symbol -> {current_price, status}.
type quotesPayload struct {
	Data map[string]struct {
		CurrentPrice json.Number `json:"current_price"`
		Status       string      `json:"status"`
	} `json:"data"`
}

// TruncateToolOutput applies the tool-output length control the Runtime
// performs before appending a result to history: known JSON shapes are
// summarised, everything else is truncated by character count with JSON
// payloads over the limit getting a head/tail rendering instead of a
// prefix-only cut.
func TruncateToolOutput(raw string) string {
	trimmed := strings.TrimSpace(raw)

	var articles articlesPayload
	if json.Unmarshal([]byte(trimmed), &articles) == nil && len(articles.Articles) > 0 {
		return summarizeArticles(articles)
	}

	var quotes quotesPayload
	if json.Unmarshal([]byte(trimmed), &quotes) == nil && len(quotes.Data) > 0 {
		return summarizeQuotes(quotes)
	}

	if len(raw) <= MaxToolOutputChars {
		return raw
	}

	if json.Valid([]byte(trimmed)) {
		return truncateJSONHeadTail(raw)
	}

	return raw[:MaxToolOutputChars] + "… (truncated)"
}

func summarizeArticles(payload articlesPayload) string {
	n := len(payload.Articles)
	max := n
	if max > 5 {
		max = 5
	}
	headlines := make([]string, 0, max)
	for _, a := range payload.Articles[:max] {
		headlines = append(headlines, a.Title)
	}
	return fmt.Sprintf("Found %d news articles. Top headlines: %s", n, strings.Join(headlines, "; "))
}

func summarizeQuotes(payload quotesPayload) string {
	parts := make([]string, 0, len(payload.Data))
	for symbol, q := range payload.Data {
		parts = append(parts, fmt.Sprintf("%s: %s", symbol, q.CurrentPrice.String()))
	}
	return strings.Join(parts, ", ")
}

// truncateJSONHeadTail renders an oversized JSON payload as its first and
// last 750 characters rather than a naive prefix cut, so both the shape of
// the object and its tail (often containing totals/pagination) survive.
func truncateJSONHeadTail(raw string) string {
	const half = 750
	if len(raw) <= 2*half {
		return raw
	}
	head := raw[:half]
	tail := raw[len(raw)-half:]
	return fmt.Sprintf("Large JSON output (truncated): %s…%s", head, tail)
}
