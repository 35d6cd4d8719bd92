// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/pkg/log"
)

// EntityHandler 负责处理实体 CRUD 的 API 请求。
type EntityHandler struct {
	entityService service.EntityService
}

// NewEntityHandler 创建一个新的 EntityHandler 实例。
func NewEntityHandler(entityService service.EntityService) *EntityHandler {
	return &EntityHandler{entityService: entityService}
}

// Create 处理 POST /entities/:kind。
func (h *EntityHandler) Create(c *gin.Context) {
	kind := model.EntityType(c.Param("kind"))
	var req model.CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	rec, err := h.entityService.Create(c.Request.Context(), kind, req.Fields)
	if err != nil {
		h.writeError(c, err)
		return
	}

	log.Infof("实体创建成功, kind: %s, entityId: %s", kind, rec.EntityID)
	c.JSON(http.StatusCreated, gin.H{
		"code": http.StatusCreated,
		"data": model.NewEntityResponseDTO(rec),
	})
}

// Get 处理 GET /entities/:kind/:id。
func (h *EntityHandler) Get(c *gin.Context) {
	entityID := c.Param("id")
	rec, err := h.entityService.Get(c.Request.Context(), entityID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": model.NewEntityResponseDTO(rec)})
}

// Update 处理 PUT /entities/:kind/:id。
func (h *EntityHandler) Update(c *gin.Context) {
	entityID := c.Param("id")
	var req model.UpdateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	rec, err := h.entityService.Update(c.Request.Context(), entityID, req.Fields)
	if err != nil {
		h.writeError(c, err)
		return
	}

	log.Infof("实体更新成功, entityId: %s, version: %d", rec.EntityID, rec.Version)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": model.NewEntityResponseDTO(rec)})
}

// Delete 处理 DELETE /entities/:kind/:id。墓碑写入方记录在删除元数据里。
func (h *EntityHandler) Delete(c *gin.Context) {
	entityID := c.Param("id")
	actor := currentUsername(c)

	ok, err := h.entityService.Delete(c.Request.Context(), entityID, actor)
	if err != nil {
		h.writeError(c, err)
		return
	}

	log.Infof("实体删除成功, entityId: %s, actor: %s", entityID, actor)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": gin.H{"deleted": ok}})
}

// List 处理 GET /entities/:kind。除保留参数外的查询参数都作为标签过滤条件。
func (h *EntityHandler) List(c *gin.Context) {
	kind := model.EntityType(c.Param("kind"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	tagFilters := make(map[string]string)
	for name, values := range c.Request.URL.Query() {
		if name == "limit" || len(values) == 0 {
			continue
		}
		tagFilters[name] = values[0]
	}

	recs, err := h.entityService.List(c.Request.Context(), kind, tagFilters, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	dtos := make([]model.EntityResponseDTO, 0, len(recs))
	for _, rec := range recs {
		dtos = append(dtos, model.NewEntityResponseDTO(rec))
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": dtos})
}

// writeError 把引擎的错误分类映射到 HTTP 状态码。
func (h *EntityHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "实体不存在"})
	case store.IsWriteFailure(err):
		log.Errorf("账本写入失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "账本写入失败，可安全重试"})
	case store.IsQueryFailure(err):
		log.Errorf("账本查询失败: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "账本查询失败，结果不确定"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
	}
}

// currentUsername 从认证中间件存入的上下文里取当前用户名，匿名调用返回 "anonymous"。
func currentUsername(c *gin.Context) string {
	raw, exists := c.Get("user")
	if !exists {
		return "anonymous"
	}
	rec, ok := raw.(*model.EntityRecord)
	if !ok {
		return "anonymous"
	}
	if uf, ok := rec.Fields.(*model.UserFields); ok {
		return uf.Username
	}
	return rec.EntityID
}
