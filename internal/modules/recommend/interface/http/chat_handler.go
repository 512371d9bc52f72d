package http

import (
	"strconv"
	"strings"

	"ShopSage/internal/modules/recommend/application/dto/request"
	"ShopSage/internal/modules/recommend/application/service"
	"ShopSage/pkg/back"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	recommendSvc service.RecommendService
}

func NewChatHandler(recommendSvc service.RecommendService) *ChatHandler {
	return &ChatHandler{recommendSvc: recommendSvc}
}

// Recommend 推荐咨询入口。KB 归属取 X-Tenant-ID 头，缺省不放行。
func (h *ChatHandler) Recommend(c *gin.Context) {
	kbDBId := strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
	if kbDBId == "" {
		back.Error(c, xerr.Unauthorized, "missing X-Tenant-ID header")
		return
	}

	var req request.ChatRecommendationRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.recommendSvc.Recommend(c.Request.Context(), kbDBId, req)
	back.Result(c, data, err)
}

func (h *ChatHandler) History(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		back.Error(c, xerr.BadRequest, "missing sessionId")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	data, err := h.recommendSvc.History(c.Request.Context(), sessionID, limit)
	back.Result(c, data, err)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		back.Error(c, xerr.BadRequest, "missing sessionId")
		return
	}
	err := h.recommendSvc.DeleteSession(c.Request.Context(), sessionID)
	back.Result(c, gin.H{"sessionId": sessionID}, err)
}
