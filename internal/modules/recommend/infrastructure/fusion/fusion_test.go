package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopSage/internal/modules/recommend/domain/recommendation"
)

func cand(key string, vs float64, hasV bool, gs float64, hasG bool) *recommendation.Candidate {
	return &recommendation.Candidate{
		Key:          key,
		VectorScore:  vs,
		HasVector:    hasV,
		GraphScore:   gs,
		HasGraph:     hasG,
		DualEvidence: hasV && hasG,
	}
}

func TestFuseDualEvidenceWins(t *testing.T) {
	// 双通道命中的候选在同等向量分下要排到前面
	both := cand("sku:a", 0.9, true, 2.0, true)
	vectorOnly := cand("sku:b", 0.9, true, 0, false)
	graphOnly := cand("sku:c", 0, false, 3.0, true)

	out := Fuse([]*recommendation.Candidate{vectorOnly, graphOnly, both}, DefaultWeights(), 10)
	require.Len(t, out, 3)
	assert.Equal(t, "sku:a", out[0].Key)
}

func TestFuseNormalizesPerChannel(t *testing.T) {
	a := cand("sku:a", 0.2, true, 0, false)
	b := cand("sku:b", 0.9, true, 0, false)
	out := Fuse([]*recommendation.Candidate{a, b}, DefaultWeights(), 10)

	// min-max 归一后最低分为 0，最高分为权重本身
	assert.Equal(t, "sku:b", out[0].Key)
	assert.InDelta(t, 0.6, out[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.0, out[1].FinalScore, 1e-9)
}

func TestFuseDegenerateRange(t *testing.T) {
	// 全员同分时归一取 1，不产生除零
	a := cand("sku:a", 0.5, true, 0, false)
	b := cand("sku:b", 0.5, true, 0, false)
	out := Fuse([]*recommendation.Candidate{a, b}, DefaultWeights(), 10)
	assert.InDelta(t, 0.6, out[0].FinalScore, 1e-9)
	assert.InDelta(t, 0.6, out[1].FinalScore, 1e-9)
	// 同分按 key 升序，保证确定性
	assert.Equal(t, "sku:a", out[0].Key)
}

func TestFuseTruncatesAfterScoring(t *testing.T) {
	cands := []*recommendation.Candidate{
		cand("sku:a", 0.1, true, 0, false),
		cand("sku:b", 0.9, true, 0, false),
		cand("sku:c", 0.5, true, 5.0, true),
	}
	out := Fuse(cands, DefaultWeights(), 1)
	require.Len(t, out, 1)
	// 截断前先融合：图分最高且双证据的候选胜出，而不是向量分最高的
	assert.Equal(t, "sku:c", out[0].Key)
}

func TestFuseCustomWeights(t *testing.T) {
	graphHeavy := recommendation.FusionWeights{Vector: 0.1, Graph: 0.8, DualBonus: 0.1}
	v := cand("sku:v", 1.0, true, 0, false)
	g := cand("sku:g", 0, false, 4.0, true)
	out := Fuse([]*recommendation.Candidate{v, g}, graphHeavy, 10)
	assert.Equal(t, "sku:g", out[0].Key)
}

func TestFuseTieBreakPrefersNewerSource(t *testing.T) {
	// 分数与证据通道完全并列时，来源文档上传更晚的候选排前面
	older := cand("sku:a", 0.5, true, 0, false)
	older.UploadedAt = 1_700_000_000
	newer := cand("sku:z", 0.5, true, 0, false)
	newer.UploadedAt = 1_800_000_000

	out := Fuse([]*recommendation.Candidate{older, newer}, DefaultWeights(), 10)
	require.Len(t, out, 2)
	assert.Equal(t, "sku:z", out[0].Key)
	assert.Equal(t, "sku:a", out[1].Key)

	// 上传时间也相同才落到 key 升序
	newer.UploadedAt = older.UploadedAt
	out = Fuse([]*recommendation.Candidate{newer, older}, DefaultWeights(), 10)
	assert.Equal(t, "sku:a", out[0].Key)
}

func TestFuseEmpty(t *testing.T) {
	assert.Empty(t, Fuse(nil, DefaultWeights(), 5))
}
