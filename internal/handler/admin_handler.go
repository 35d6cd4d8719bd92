package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ledgerbase-go/internal/cache"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/pkg/log"
	"ledgerbase-go/pkg/tasks"
)

// AdminHandler 负责处理运维类的 API 请求，全部要求管理员权限。
type AdminHandler struct {
	cache         cache.Cache
	entityService service.EntityService
	enqueueIndex  service.IndexEnqueuer
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(c cache.Cache, entityService service.EntityService, enqueueIndex service.IndexEnqueuer) *AdminHandler {
	return &AdminHandler{
		cache:         c,
		entityService: entityService,
		enqueueIndex:  enqueueIndex,
	}
}

// ClearCache 处理 POST /admin/cache/clear。
// 清空缓存只影响读取延迟：后续读取会回落到账本并重新填充。
func (h *AdminHandler) ClearCache(c *gin.Context) {
	for _, storeName := range []string{cache.StoreEntities, cache.StoreQueries} {
		if err := h.cache.Clear(c.Request.Context(), storeName); err != nil {
			log.Errorf("清空缓存失败, store: %s: %v", storeName, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空缓存失败"})
			return
		}
	}
	log.Info("缓存已清空")
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "缓存已清空"})
}

// ReindexDocument 处理 POST /admin/reindex/:docId。
// 重新索引追加新的向量记录，旧记录按时间戳被取代。
func (h *AdminHandler) ReindexDocument(c *gin.Context) {
	docID := c.Param("docId")

	rec, err := h.entityService.Get(c.Request.Context(), docID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文档不存在"})
		return
	}
	doc, ok := rec.Fields.(*model.DocumentFields)
	if !ok || doc.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "目标实体不是可索引的文档"})
		return
	}

	task := tasks.VectorIndexTask{
		DocID:         rec.EntityID,
		LedgerAddress: rec.LedgerAddress,
		Content:       doc.Content,
		OwnerID:       doc.OwnerID,
	}
	if err := h.enqueueIndex(task); err != nil {
		log.Errorf("入队重索引任务失败, DocID: %s: %v", docID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "入队重索引任务失败"})
		return
	}

	log.Infof("已入队重索引任务, DocID: %s", docID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "重索引任务已入队"})
}
