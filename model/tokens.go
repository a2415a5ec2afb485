package model

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// CountTokens estimates the token count of text with the cl100k encoding,
// falling back to a four-characters-per-token heuristic.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if c := getCodec(); c != nil {
		if ids, _, err := c.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

// TruncateToTokens cuts text to at most max tokens. It returns text unchanged
// when it already fits or max is not positive.
func TruncateToTokens(text string, max int) string {
	if max <= 0 || text == "" {
		return text
	}
	c := getCodec()
	if c == nil {
		if limit := max * 4; len(text) > limit {
			return text[:limit]
		}
		return text
	}
	ids, _, err := c.Encode(text)
	if err != nil || len(ids) <= max {
		return text
	}
	out, err := c.Decode(ids[:max])
	if err != nil {
		return text
	}
	return out
}
