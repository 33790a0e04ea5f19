// Package utils provides token counting, filesystem and map helpers shared across components.
package utils

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts and truncates text in GPT-4 tokens. Other providers
// tokenize differently; the count is used as a budget estimate.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter. If the codec cannot be loaded it falls
// back to a 4-characters-per-token estimate.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TruncateToTokenLimit cuts text to at most limit tokens, marking the cut.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if tc.CountTokens(text) <= limit {
		return text
	}
	if tc != nil && tc.codec != nil {
		ids, _, err := tc.codec.Encode(text)
		if err == nil && len(ids) > limit {
			if decoded, derr := tc.codec.Decode(ids[:limit]); derr == nil {
				return decoded + "\n...[truncated]"
			}
		}
	}
	charLimit := limit * 4
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "\n...[truncated]"
}
