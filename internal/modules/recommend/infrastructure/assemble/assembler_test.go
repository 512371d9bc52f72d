package assemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopSage/internal/modules/recommend/domain/recommendation"
)

func grounded(key, sku string, evidence ...recommendation.Evidence) *recommendation.Candidate {
	return &recommendation.Candidate{
		Key: key, SKU: sku, Title: sku,
		HasVector: true, VectorScore: 0.9, FinalScore: 0.7,
		Evidence: evidence,
	}
}

func TestAssembleDropsUngroundedCandidates(t *testing.T) {
	a := NewAssembler()
	withEvidence := grounded("sku:a", "A",
		recommendation.Evidence{Type: recommendation.EvidenceTypeDoc, SourceID: "chunk-1", Snippet: "red shoes"})
	without := grounded("sku:b", "B")

	res := a.Assemble([]*recommendation.Candidate{withEvidence, without}, recommendation.Filters{}, false, "en")
	require.Len(t, res.Products, 1)
	assert.Equal(t, "A", res.Products[0].SKU)
	require.Len(t, res.Products[0].Evidence, 1)
	assert.Equal(t, "chunk-1", res.Products[0].Evidence[0].SourceID)
}

func TestAssembleAllowUngrounded(t *testing.T) {
	a := NewAssembler()
	withEvidence := grounded("sku:a", "A",
		recommendation.Evidence{Type: recommendation.EvidenceTypeDoc, SourceID: "chunk-1", Snippet: "red shoes"})
	res := a.Assemble([]*recommendation.Candidate{withEvidence, grounded("sku:b", "B")}, recommendation.Filters{}, true, "en")
	require.Len(t, res.Products, 2)

	// 无证据的候选保留但显式打上 ungrounded 标记
	assert.False(t, res.Products[0].Ungrounded)
	assert.True(t, res.Products[1].Ungrounded)
	assert.Empty(t, res.Products[1].Evidence)
	assert.Contains(t, res.Products[1].Reasons, "no supporting evidence was retrieved")
}

func TestAssembleDedupsEvidenceAcrossProducts(t *testing.T) {
	a := NewAssembler()
	shared := recommendation.Evidence{Type: recommendation.EvidenceTypeDoc, SourceID: "chunk-9", Snippet: "s"}
	res := a.Assemble([]*recommendation.Candidate{
		grounded("sku:a", "A", shared, shared),
		grounded("sku:b", "B", shared),
	}, recommendation.Filters{}, false, "en")

	require.Len(t, res.Products, 2)
	// 单品内部与全局证据列表都去重
	assert.Len(t, res.Products[0].Evidence, 1)
	assert.Len(t, res.Evidence, 1)
}

func TestAssembleReasonsMentionChannels(t *testing.T) {
	a := NewAssembler()
	dual := grounded("sku:a", "A",
		recommendation.Evidence{Type: recommendation.EvidenceTypeDoc, SourceID: "chunk-1", Snippet: "s"})
	dual.HasGraph = true
	dual.DualEvidence = true
	dual.Brand = "X"

	brands := recommendation.Filters{Brands: []string{"X"}}
	res := a.Assemble([]*recommendation.Candidate{dual}, brands, false, "en")
	require.Len(t, res.Products, 1)
	reasons := res.Products[0].Reasons
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "both semantic search and knowledge graph")
	assert.Contains(t, reasons[1], "brand X")
}

func TestAssembleEmptyResultReply(t *testing.T) {
	a := NewAssembler()

	res := a.Assemble(nil, recommendation.Filters{}, false, "en")
	assert.Empty(t, res.Products)
	assert.Contains(t, res.Reply, "No matching products")

	resZh := a.Assemble(nil, recommendation.Filters{}, false, "zh-CN")
	assert.Contains(t, resZh.Reply, "没有找到")
}

func TestAssembleReplyNamesTopPicks(t *testing.T) {
	a := NewAssembler()
	ev := recommendation.Evidence{Type: recommendation.EvidenceTypeDoc, SourceID: "c1", Snippet: "s"}
	res := a.Assemble([]*recommendation.Candidate{
		grounded("sku:a", "Alpha", ev),
		grounded("sku:b", "Beta", ev),
	}, recommendation.Filters{}, false, "en")
	assert.Contains(t, res.Reply, "Found 2 matching products")
	assert.Contains(t, res.Reply, "Alpha")
}
