package fusion

import (
	"sort"

	"ShopSage/internal/modules/recommend/domain/recommendation"
)

// 分数融合。两路原始分分布不同（向量相似度落在 [0,1]，图关系权重无上界），
// 先在候选集内各自做 min-max 归一，再加权合成：
//
//	final = vector*vn + graph*gn + dualBonus*[双通道命中]
//
// 截断必须在融合之后做，融合要看到完整候选池。

// DefaultWeights 全局默认权重，KB 配置可覆盖
func DefaultWeights() recommendation.FusionWeights {
	return recommendation.FusionWeights{Vector: 0.6, Graph: 0.3, DualBonus: 0.1}
}

// Fuse 归一、加权、排序、截断。入参切片就地更新 FinalScore。
func Fuse(candidates []*recommendation.Candidate, w recommendation.FusionWeights, topK int) []*recommendation.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	vMin, vMax := scoreRange(candidates, func(c *recommendation.Candidate) (float64, bool) {
		return c.VectorScore, c.HasVector
	})
	gMin, gMax := scoreRange(candidates, func(c *recommendation.Candidate) (float64, bool) {
		return c.GraphScore, c.HasGraph
	})

	for _, c := range candidates {
		var vn, gn float64
		if c.HasVector {
			vn = normalize(c.VectorScore, vMin, vMax)
		}
		if c.HasGraph {
			gn = normalize(c.GraphScore, gMin, gMax)
		}
		c.FinalScore = w.Vector*vn + w.Graph*gn
		if c.DualEvidence {
			c.FinalScore += w.DualBonus
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.DualEvidence != b.DualEvidence {
			return a.DualEvidence
		}
		// 并列分时新上传的来源文档优先
		if a.UploadedAt != b.UploadedAt {
			return a.UploadedAt > b.UploadedAt
		}
		return a.Key < b.Key
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

func scoreRange(candidates []*recommendation.Candidate, get func(*recommendation.Candidate) (float64, bool)) (float64, float64) {
	first := true
	var min, max float64
	for _, c := range candidates {
		v, ok := get(c)
		if !ok {
			continue
		}
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// normalize 区间退化（全员同分）时取 1，让权重仍然生效
func normalize(v, min, max float64) float64 {
	if max <= min {
		return 1
	}
	return (v - min) / (max - min)
}
