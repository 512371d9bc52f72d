package http

import (
	"strings"

	"ShopSage/internal/modules/knowledge/application/dto/request"
	"ShopSage/internal/modules/knowledge/application/service"
	"ShopSage/pkg/back"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type KBHandler struct {
	kbSvc      service.KBService
	rebuildSvc service.RebuildService
}

func NewKBHandler(kbSvc service.KBService, rebuildSvc service.RebuildService) *KBHandler {
	return &KBHandler{kbSvc: kbSvc, rebuildSvc: rebuildSvc}
}

func (h *KBHandler) Create(c *gin.Context) {
	var req request.CreateKBRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.kbSvc.Create(c.Request.Context(), req)
	back.Result(c, data, err)
}

func (h *KBHandler) Get(c *gin.Context) {
	data, err := h.kbSvc.Get(c.Request.Context(), c.Param("kbId"))
	back.Result(c, data, err)
}

func (h *KBHandler) List(c *gin.Context) {
	data, err := h.kbSvc.List(c.Request.Context())
	back.Result(c, data, err)
}

func (h *KBHandler) Update(c *gin.Context) {
	var req request.UpdateKBRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.kbSvc.Update(c.Request.Context(), c.Param("kbId"), req)
	back.Result(c, data, err)
}

func (h *KBHandler) Delete(c *gin.Context) {
	err := h.kbSvc.Delete(c.Request.Context(), c.Param("kbId"))
	back.Result(c, nil, err)
}

// Rebuild 触发全量索引重建；同 KB 并发触发返回冲突
func (h *KBHandler) Rebuild(c *gin.Context) {
	data, err := h.rebuildSvc.Start(c.Request.Context(), c.Param("kbId"))
	back.Result(c, data, err)
}

func (h *KBHandler) RebuildStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Query("jobId"))
	if jobID == "" {
		data, err := h.rebuildSvc.LatestForKB(c.Request.Context(), c.Param("kbId"))
		back.Result(c, data, err)
		return
	}
	data, err := h.rebuildSvc.Status(c.Request.Context(), jobID)
	back.Result(c, data, err)
}

func (h *KBHandler) RebuildCancel(c *gin.Context) {
	jobID := strings.TrimSpace(c.Query("jobId"))
	if jobID == "" {
		back.Error(c, xerr.BadRequest, "missing jobId")
		return
	}
	err := h.rebuildSvc.Cancel(c.Request.Context(), jobID)
	back.Result(c, nil, err)
}
