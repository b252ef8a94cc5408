// Package tokens estimates token usage for backends that omit usage figures
// from their responses.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/akeswens/llm-gateway/internal/domain"
)

// Estimator counts tokens with tiktoken where an encoding applies and falls
// back to a chars/4 heuristic when it does not. Estimates feed cost math and
// usage reporting only; they are never load-bearing for correctness.
type Estimator struct {
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewEstimator creates a new estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// Token overhead per chat message, per OpenAI's accounting: 3 per message
// plus 1 for the role, plus 3 to prime the assistant turn.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	tokensPriming    = 3
)

// EstimateMessages counts the prompt tokens a chat request will consume.
func (e *Estimator) EstimateMessages(model string, messages []domain.Message) int {
	total := tokensPriming
	for _, msg := range messages {
		total += tokensPerMessage + tokensPerRole
		total += e.EstimateText(model, msg.Content)
	}
	return total
}

// EstimateText counts tokens in one string.
func (e *Estimator) EstimateText(model, text string) int {
	if text == "" {
		return 0
	}
	codec, err := e.getCodec(model)
	if err != nil {
		// Rough heuristic: one token per four characters of English text.
		return (len(text) + 3) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

func (e *Estimator) getCodec(model string) (tokenizer.Codec, error) {
	encoding := modelToEncoding(model)

	e.cacheMu.RLock()
	if cached, ok := e.codecCache[encoding]; ok {
		e.cacheMu.RUnlock()
		return cached, nil
	}
	e.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.codecCache[encoding] = codec
	e.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding picks a tiktoken encoding for a model. Non-OpenAI models
// get cl100k_base, which tracks modern BPE vocabularies closely enough for
// estimation purposes.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
