package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopSage/pkg/retry"
)

// flakyEmbedder 前 failures 次调用返回错误，之后委托给内层
type flakyEmbedder struct {
	inner    embedding.Embedder
	failures int
	calls    int
}

func (f *flakyEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("embedding provider unavailable")
	}
	return f.inner.EmbedStrings(ctx, texts, opts...)
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Jitter: 0}
}

func TestRetryingEmbedderRecoversFromTransientFailure(t *testing.T) {
	flaky := &flakyEmbedder{inner: NewMockEmbedder(8), failures: 2}
	e := NewRetryingEmbedder(flaky, fastPolicy(3), 8)

	vecs, err := e.EmbedStrings(context.Background(), []string{"red shoes", "hiking boots"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingEmbedderExhaustsAttempts(t *testing.T) {
	flaky := &flakyEmbedder{inner: NewMockEmbedder(8), failures: 10}
	e := NewRetryingEmbedder(flaky, fastPolicy(3), 8)

	_, err := e.EmbedStrings(context.Background(), []string{"red shoes"})
	require.Error(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingEmbedderNoRetrySingleAttempt(t *testing.T) {
	flaky := &flakyEmbedder{inner: NewMockEmbedder(8), failures: 1}
	e := NewRetryingEmbedder(flaky, retry.NoRetry(), 8)

	_, err := e.EmbedStrings(context.Background(), []string{"red shoes"})
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

func TestRetryingEmbedderRejectsDimMismatch(t *testing.T) {
	e := NewRetryingEmbedder(NewMockEmbedder(8), retry.NoRetry(), 16)
	_, err := e.EmbedStrings(context.Background(), []string{"red shoes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dim mismatch")
}
