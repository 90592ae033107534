package audit

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	truncationMarker = "... [truncated]"
	tokenEncoding    = "cl100k_base"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// loadEncoder reads the embedded BPE ranks; nothing is fetched at runtime.
func loadEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			encoder = enc
		}
	})
	return encoder
}

// EstimateTokens counts s in cl100k_base tokens. If the encoder cannot be
// loaded it falls back to approximateTokens.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	if enc := loadEncoder(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return approximateTokens(s)
}

// approximateTokens assumes one token per four characters.
func approximateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// Truncate caps s at max characters and appends a marker when it cuts.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + truncationMarker
}
