package http

import (
	"io"
	"strconv"

	"ShopSage/internal/modules/knowledge/application/service"
	"ShopSage/pkg/back"
	"ShopSage/pkg/xerr"

	"github.com/gin-gonic/gin"
)

type GraphHandler struct {
	graphSvc service.GraphService
}

func NewGraphHandler(graphSvc service.GraphService) *GraphHandler {
	return &GraphHandler{graphSvc: graphSvc}
}

func intQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (h *GraphHandler) Subgraph(c *gin.Context) {
	entity := c.Query("entity")
	if entity == "" {
		back.Error(c, xerr.BadRequest, "missing entity")
		return
	}
	depth := intQuery(c, "depth", 1)
	budget := intQuery(c, "nodeBudget", 64)
	data, err := h.graphSvc.Subgraph(c.Request.Context(), c.Param("kbId"), entity, depth, budget)
	back.Result(c, data, err)
}

func (h *GraphHandler) Sample(c *gin.Context) {
	num := intQuery(c, "num", 50)
	data, err := h.graphSvc.SampleNodes(c.Request.Context(), c.Param("kbId"), num)
	back.Result(c, data, err)
}

func (h *GraphHandler) Labels(c *gin.Context) {
	data, err := h.graphSvc.Labels(c.Request.Context(), c.Param("kbId"))
	back.Result(c, data, err)
}

func (h *GraphHandler) Stats(c *gin.Context) {
	data, err := h.graphSvc.Stats(c.Request.Context(), c.Param("kbId"))
	back.Result(c, data, err)
}

// Node 按实体名查询单节点及其一跳邻接
func (h *GraphHandler) Node(c *gin.Context) {
	entity := c.Query("entity")
	if entity == "" {
		back.Error(c, xerr.BadRequest, "missing entity")
		return
	}
	data, err := h.graphSvc.Node(c.Request.Context(), c.Param("kbId"), entity)
	back.Result(c, data, err)
}

// BulkEntities 上传 JSONL 三元组文件批量入图
func (h *GraphHandler) BulkEntities(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		back.Error(c, xerr.BadRequest, "missing triple file")
		return
	}
	if fh.Size > maxTripleFileSize {
		back.Error(c, xerr.BadRequest, "triple file too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		back.Error(c, xerr.BadRequest, "unreadable triple file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		back.Error(c, xerr.BadRequest, "unreadable triple file")
		return
	}
	res, err := h.graphSvc.BulkAddTriples(c.Request.Context(), c.Param("kbId"), data)
	back.Result(c, res, err)
}

const maxTripleFileSize = 16 << 20

// IndexEntities 实体向量补建，批量大小由 batch 控制
func (h *GraphHandler) IndexEntities(c *gin.Context) {
	batch := intQuery(c, "batch", 100)
	data, err := h.graphSvc.IndexEntities(c.Request.Context(), c.Param("kbId"), batch)
	back.Result(c, data, err)
}
