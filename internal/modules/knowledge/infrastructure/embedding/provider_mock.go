package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
)

// MockEmbedder 确定性的本地向量化实现：把文本按词哈希进固定维度（特征哈希），
// 同一文本永远得到同一向量，词面重叠越多余弦相似度越高。用于开发环境与测试。
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, m.Dim)
		for _, tok := range tokenize(t) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			sum := h.Sum32()
			idx := int(sum) % m.Dim
			if idx < 0 {
				idx += m.Dim
			}
			// 符号位让不同词有机会相互抵消，近似随机投影
			if sum&1 == 0 {
				vec[idx] += 1
			} else {
				vec[idx] -= 1
			}
		}
		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range vec {
				vec[j] /= norm
			}
		} else {
			vec[0] = 1
		}
		result[i] = vec
	}
	return result, nil
}

func tokenize(s string) []string {
	fs := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})
	return fs
}

// 确保实现接口
var _ embedding.Embedder = (*MockEmbedder)(nil)
