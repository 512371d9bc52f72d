package extraction

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"ShopSage/internal/modules/knowledge/domain/repository"
)

// 实体类型
const (
	EntityTypeProduct  = "product"
	EntityTypeBrand    = "brand"
	EntityTypeCategory = "category"
	EntityTypeTag      = "tag"
)

// 关系类型
const (
	RelationHasBrand   = "HAS_BRAND"
	RelationInCategory = "IN_CATEGORY"
	RelationHasTag     = "HAS_TAG"
	RelationMentions   = "MENTIONS"
)

// ProductDoc 商品目录文档里的一条商品记录
type ProductDoc struct {
	SKU         string   `json:"sku"`
	Title       string   `json:"title"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

// ParseProducts 尝试把文档内容按商品目录解析：顶层 JSON 数组，
// 或 {"products": [...]} 包装。解析失败返回 false，调用方走纯文本路径。
func ParseProducts(content string) ([]ProductDoc, bool) {
	s := strings.TrimSpace(content)
	if s == "" {
		return nil, false
	}

	var arr []ProductDoc
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &arr); err == nil && validProducts(arr) {
			return arr, true
		}
		return nil, false
	}
	if strings.HasPrefix(s, "{") {
		var wrap struct {
			Products []ProductDoc `json:"products"`
		}
		if err := json.Unmarshal([]byte(s), &wrap); err == nil && validProducts(wrap.Products) {
			return wrap.Products, true
		}
	}
	return nil, false
}

func validProducts(arr []ProductDoc) bool {
	if len(arr) == 0 {
		return false
	}
	for _, p := range arr {
		if strings.TrimSpace(p.SKU) == "" && strings.TrimSpace(p.Title) == "" {
			return false
		}
	}
	return true
}

// EntityExtractor 规则式实体/关系提取。外部 NLP 抽取服务不在本仓库范围内，
// 这里覆盖两类输入：结构化商品记录、以及带少量约定记号的自由文本。
type EntityExtractor struct{}

func NewEntityExtractor() *EntityExtractor {
	return &EntityExtractor{}
}

// FromProduct 从一条商品记录产出三元组
func (e *EntityExtractor) FromProduct(p ProductDoc) []repository.Triple {
	head := strings.TrimSpace(p.Title)
	if head == "" {
		head = strings.TrimSpace(p.SKU)
	}
	if head == "" {
		return nil
	}

	var out []repository.Triple
	if b := strings.TrimSpace(p.Brand); b != "" {
		out = append(out, repository.Triple{Head: head, HeadType: EntityTypeProduct, Relation: RelationHasBrand, Tail: b, TailType: EntityTypeBrand, Weight: 1.0})
	}
	if c := strings.TrimSpace(p.Category); c != "" {
		out = append(out, repository.Triple{Head: head, HeadType: EntityTypeProduct, Relation: RelationInCategory, Tail: c, TailType: EntityTypeCategory, Weight: 0.8})
	}
	for _, t := range p.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, repository.Triple{Head: head, HeadType: EntityTypeProduct, Relation: RelationHasTag, Tail: t, TailType: EntityTypeTag, Weight: 0.5})
	}
	return out
}

var (
	tripleLineRe = regexp.MustCompile(`^\s*([^|]+)\|([^|]+)\|([^|]+?)(?:\|([0-9.]+))?\s*$`)
	brandRe      = regexp.MustCompile(`(?i)\bbrand[:\s]+([\p{L}0-9][\p{L}0-9_-]*)`)
	categoryRe   = regexp.MustCompile(`(?i)\bcategory[:\s]+([\p{L}0-9][\p{L}0-9 _-]*)`)
)

// FromText 从自由文本提取。支持两种记号：
//   - 显式三元组行 "head|RELATION|tail[|weight]"
//   - "brand X" / "category: Y" 这类属性提及，头实体取文本首个子句
func (e *EntityExtractor) FromText(text string) []repository.Triple {
	var out []repository.Triple

	subject := textSubject(text)

	for _, line := range strings.Split(text, "\n") {
		if m := tripleLineRe.FindStringSubmatch(line); m != nil && !strings.ContainsAny(m[2], " \t") {
			w := 1.0
			if m[4] != "" {
				if f, err := strconv.ParseFloat(m[4], 64); err == nil && f >= 0 {
					w = f
				}
			}
			out = append(out, repository.Triple{
				Head:     strings.TrimSpace(m[1]),
				HeadType: EntityTypeProduct,
				Relation: strings.ToUpper(strings.TrimSpace(m[2])),
				Tail:     strings.TrimSpace(m[3]),
				TailType: EntityTypeTag,
				Weight:   w,
			})
		}
	}

	if subject != "" {
		for _, m := range brandRe.FindAllStringSubmatch(text, -1) {
			out = append(out, repository.Triple{Head: subject, HeadType: EntityTypeProduct, Relation: RelationHasBrand, Tail: strings.TrimSpace(m[1]), TailType: EntityTypeBrand, Weight: 1.0})
		}
		for _, m := range categoryRe.FindAllStringSubmatch(text, -1) {
			out = append(out, repository.Triple{Head: subject, HeadType: EntityTypeProduct, Relation: RelationInCategory, Tail: strings.TrimSpace(m[1]), TailType: EntityTypeCategory, Weight: 0.8})
		}
	}

	return out
}

// textSubject 取首个子句作为头实体名，限制长度避免把整段文本当实体
func textSubject(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, ",，.。\n"); i > 0 {
		s = s[:i]
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) > 64 {
		r = r[:64]
	}
	return string(r)
}
