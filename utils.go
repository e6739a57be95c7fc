package structex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SanitizeJSONResponse removes garbage characters often produced by LLMs:
// surrounding whitespace, markdown code fences and the like.
func SanitizeJSONResponse(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return []byte(strings.TrimSpace(s))
}

// decodeResult sanitizes raw provider output and unmarshals it into a Result.
func decodeResult(raw []byte) (Result, error) {
	var out Result
	if err := json.Unmarshal(SanitizeJSONResponse(raw), &out); err != nil {
		return nil, fmt.Errorf("decode provider output: %w", err)
	}
	return out, nil
}

// cloneResult shallow-copies a result so callers can annotate without
// mutating shared state (cached entries in particular). A nil input clones
// to an empty map so annotation never hits a nil map.
func cloneResult(r Result) Result {
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// retryable executes a function with exponential backoff retry logic.
func retryable(call func() error, max int, backoff time.Duration, log *slog.Logger) error {
	if max == 0 {
		return call() // no retry
	}

	delay := backoff
	for i := 0; i <= max; i++ {
		if err := call(); err != nil {
			if i == max {
				log.Debug("final attempt failed", "attempt", i+1, "error", err)
				return err
			}
			log.Debug("attempt failed, retrying", "attempt", i+1, "error", err, "delay", delay)
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if i > 0 {
			log.Debug("attempt succeeded", "attempt", i+1)
		}
		return nil
	}
	return nil
}

// frameDocument appends the document text to a prompt with explicit markers
// so the model can tell instructions from content.
func frameDocument(prompt, doc string) string {
	if doc == "" {
		return prompt
	}
	return prompt + "\n\n<<DOC>>\n" + doc + "\n<<END>>"
}
