package http

import (
	"io"

	"ShopSage/internal/modules/knowledge/application/service"
	"ShopSage/pkg/back"
	"ShopSage/pkg/xerr"
	"ShopSage/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type DocumentHandler struct {
	ingestSvc service.IngestService
}

func NewDocumentHandler(ingestSvc service.IngestService) *DocumentHandler {
	return &DocumentHandler{ingestSvc: ingestSvc}
}

// Upload multipart 上传，字段名 file；摄取异步进行，本接口只返回 pending 文档
func (h *DocumentHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		back.Error(c, xerr.BadRequest, "missing file field")
		return
	}
	f, err := fh.Open()
	if err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, "unreadable upload")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}

	data, err := h.ingestSvc.Upload(c.Request.Context(), c.Param("kbId"), service.UploadDocumentInput{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     content,
	})
	back.Result(c, data, err)
}

func (h *DocumentHandler) List(c *gin.Context) {
	data, err := h.ingestSvc.ListDocuments(c.Request.Context(), c.Param("kbId"))
	back.Result(c, data, err)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	data, err := h.ingestSvc.GetDocument(c.Request.Context(), c.Param("kbId"), c.Param("docId"))
	back.Result(c, data, err)
}

func (h *DocumentHandler) Reingest(c *gin.Context) {
	err := h.ingestSvc.Reingest(c.Request.Context(), c.Param("kbId"), c.Param("docId"))
	back.Result(c, nil, err)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	err := h.ingestSvc.DeleteDocument(c.Request.Context(), c.Param("kbId"), c.Param("docId"))
	back.Result(c, nil, err)
}
