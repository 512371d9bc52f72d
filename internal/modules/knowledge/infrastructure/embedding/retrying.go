package embedding

import (
	"context"
	"fmt"

	"ShopSage/pkg/retry"

	"github.com/cloudwego/eino/components/embedding"
)

// RetryingEmbedder 按统一重试策略包装底层 Embedder，并校验返回维度。
// 摄取路径用带退避的策略，查询路径用单次策略。
type RetryingEmbedder struct {
	inner  embedding.Embedder
	policy retry.Policy
	dim    int
}

func NewRetryingEmbedder(inner embedding.Embedder, policy retry.Policy, dim int) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy, dim: dim}
}

func (r *RetryingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	var out [][]float64
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		vecs, err := r.inner.EmbedStrings(ctx, texts, opts...)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedding count mismatch: got=%d want=%d", len(vecs), len(texts))
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.dim > 0 {
		for i, v := range out {
			if len(v) != r.dim {
				return nil, fmt.Errorf("embedding dim mismatch at %d: got=%d want=%d", i, len(v), r.dim)
			}
		}
	}
	return out, nil
}

var _ embedding.Embedder = (*RetryingEmbedder)(nil)
