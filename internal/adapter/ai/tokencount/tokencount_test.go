package tokencount_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelarena/llm-evaluator/internal/adapter/ai/tokencount"
)

func TestCounter_CountTokens(t *testing.T) {
	t.Parallel()
	c := tokencount.NewCounter()

	n, err := c.CountTokens("What is 2+2?", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Positive(t, n)

	// Longer text yields more tokens.
	longer, err := c.CountTokens("What is 2+2? Please explain your reasoning step by step.", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Greater(t, longer, n)
}

func TestCounter_UnknownModelStillCounts(t *testing.T) {
	t.Parallel()
	c := tokencount.NewCounter()

	n, err := c.CountTokens("hello world", "qwen2.5:latest")
	require.NoError(t, err)
	assert.Positive(t, n)

	m, err := c.CountTokens("hello world", "meta-llama/llama-3.1-8b-instruct")
	require.NoError(t, err)
	assert.Equal(t, n, m, "aliased models share the fallback encoding")
}

func TestCounter_EmptyText(t *testing.T) {
	t.Parallel()
	n, err := tokencount.DefaultCounter.CountTokens("", "gpt-4")
	require.NoError(t, err)
	assert.Zero(t, n)
}
