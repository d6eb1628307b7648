package openai_compat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// estimateTokens counts with o200k_base. It returns 0 when the encoding
// cannot be loaded, which matches an upstream that reports no usage.
func estimateTokens(parts ...string) int {
	encOnce.Do(func() {
		if e, err := tiktoken.GetEncoding("o200k_base"); err == nil {
			enc = e
		}
	})
	if enc == nil {
		return 0
	}
	n := 0
	for _, p := range parts {
		if p == "" {
			continue
		}
		n += len(enc.Encode(p, nil, nil))
	}
	return n
}
