package assemble

import (
	"fmt"
	"sort"
	"strings"

	"ShopSage/internal/modules/recommend/domain/recommendation"
)

// Assembler 把融合后的候选映射为对外的推荐记录。
// 不变式：除非 KB 显式允许 ungrounded，否则没有任何证据的候选直接丢弃。
type Assembler struct{}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Result 装配结果：推荐列表、全量去重证据、回复文本
type Result struct {
	Products []recommendation.ProductRecommendation
	Evidence []recommendation.Evidence
	Reply    string
}

func (a *Assembler) Assemble(candidates []*recommendation.Candidate, filters recommendation.Filters, allowUngrounded bool, lang string) *Result {
	res := &Result{
		Products: make([]recommendation.ProductRecommendation, 0, len(candidates)),
		Evidence: make([]recommendation.Evidence, 0),
	}

	seenEvidence := map[string]bool{}
	for _, c := range candidates {
		evidence := dedupEvidence(c.Evidence)
		if len(evidence) == 0 && !allowUngrounded {
			continue
		}

		p := recommendation.ProductRecommendation{
			SKU:        c.SKU,
			Title:      c.Title,
			Price:      c.Price,
			Currency:   c.Currency,
			Score:      round4(c.FinalScore),
			Reasons:    buildReasons(c, filters),
			Tags:       c.Tags,
			Evidence:   evidence,
			Ungrounded: len(evidence) == 0,
		}
		if p.Ungrounded {
			p.Reasons = append(p.Reasons, "no supporting evidence was retrieved")
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		res.Products = append(res.Products, p)

		for _, e := range evidence {
			if !seenEvidence[e.SourceID] {
				seenEvidence[e.SourceID] = true
				res.Evidence = append(res.Evidence, e)
			}
		}
	}

	res.Reply = buildReply(res.Products, lang)
	return res
}

func dedupEvidence(in []recommendation.Evidence) []recommendation.Evidence {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]recommendation.Evidence, 0, len(in))
	for _, e := range in {
		if e.SourceID == "" || seen[e.SourceID] {
			continue
		}
		seen[e.SourceID] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// buildReasons 说明候选凭什么入选：哪路召回命中、满足了哪些过滤条件
func buildReasons(c *recommendation.Candidate, filters recommendation.Filters) []string {
	var reasons []string
	switch {
	case c.DualEvidence:
		reasons = append(reasons, "matched by both semantic search and knowledge graph")
	case c.HasVector:
		reasons = append(reasons, "matched by semantic similarity to your query")
	case c.HasGraph:
		reasons = append(reasons, "related to entities in your query via the knowledge graph")
	}

	if len(filters.Brands) > 0 && c.Brand != "" {
		reasons = append(reasons, fmt.Sprintf("brand %s matches your filter", c.Brand))
	}
	if len(filters.Categories) > 0 && c.Category != "" {
		reasons = append(reasons, fmt.Sprintf("in category %s", c.Category))
	}
	if filters.PriceMin != nil || filters.PriceMax != nil {
		reasons = append(reasons, fmt.Sprintf("price %.2f within your range", c.Price))
	}
	return reasons
}

func buildReply(products []recommendation.ProductRecommendation, lang string) string {
	if len(products) == 0 {
		if strings.HasPrefix(strings.ToLower(lang), "zh") {
			return "没有找到符合条件的商品，换个说法或放宽筛选条件试试。"
		}
		return "No matching products were found. Try rephrasing or relaxing the filters."
	}

	names := make([]string, 0, 3)
	for i, p := range products {
		if i >= 3 {
			break
		}
		n := p.Title
		if n == "" {
			n = p.SKU
		}
		names = append(names, n)
	}
	if strings.HasPrefix(strings.ToLower(lang), "zh") {
		return fmt.Sprintf("为你找到 %d 件相关商品，推荐优先看看：%s。", len(products), strings.Join(names, "、"))
	}
	return fmt.Sprintf("Found %d matching products. Top picks: %s.", len(products), strings.Join(names, ", "))
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
