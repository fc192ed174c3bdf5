package platform

import "github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"

// Chunk splits tokens into consecutive batches of at most size entries.
func Chunk(tokens []string, size int) [][]string {
	if len(tokens) == 0 {
		return nil
	}
	if size <= 0 || size >= len(tokens) {
		return [][]string{tokens}
	}
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		batches = append(batches, tokens[start:end])
	}
	return batches
}

// Dedupe drops repeated tokens, keeping first-seen order.
func Dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// FailAll reports every token of a batch as failed.
func FailAll(batch []string) dispatch.DeliveryResult {
	failed := make([]string, len(batch))
	copy(failed, batch)
	return dispatch.DeliveryResult{FailureCount: len(batch), FailedTokens: failed}
}
