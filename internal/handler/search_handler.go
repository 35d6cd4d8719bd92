package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/pkg/log"
)

// SearchHandler 负责处理检索与问答的 API 请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Semantic 处理 GET /search/semantic?q=...&limit=...&threshold=...&owner=...。
func (h *SearchHandler) Semantic(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 q"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	threshold, _ := strconv.ParseFloat(c.DefaultQuery("threshold", "0"), 64)

	results, err := h.searchService.Search(c.Request.Context(), query, service.SearchOptions{
		Limit:       limit,
		Threshold:   threshold,
		OwnerFilter: c.Query("owner"),
	})
	if err != nil {
		log.Errorf("语义检索失败, query: '%s': %v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": results})
}

// Hybrid 处理 GET /search/hybrid?q=...&keywords=a,b,c。
func (h *SearchHandler) Hybrid(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 q"})
		return
	}
	var keywords []string
	if raw := c.Query("keywords"); raw != "" {
		keywords = strings.Split(raw, ",")
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	results, err := h.searchService.HybridSearch(c.Request.Context(), query, keywords, service.SearchOptions{Limit: limit})
	if err != nil {
		log.Errorf("混合检索失败, query: '%s': %v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": results})
}

// Keyword 处理 GET /search/keyword?q=...，查询全文镜像。
func (h *SearchHandler) Keyword(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 q"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	results, err := h.searchService.KeywordSearch(c.Request.Context(), query, c.Query("owner"), limit)
	if err != nil {
		log.Errorf("全文镜像检索失败, query: '%s': %v", query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": results})
}

// Similar 处理 GET /search/similar/:docId。
func (h *SearchHandler) Similar(c *gin.Context) {
	docID := c.Param("docId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	results, err := h.searchService.FindSimilarDocuments(c.Request.Context(), docID, limit)
	if err != nil {
		log.Errorf("以文找文失败, docId: %s: %v", docID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": results})
}

// Ask 处理 POST /ask，非流式检索增强问答。
func (h *SearchHandler) Ask(c *gin.Context) {
	var req model.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：问题不能为空"})
		return
	}

	answer, err := h.searchService.AskQuestion(c.Request.Context(), req.Question, currentUserID(c))
	if err != nil {
		log.Errorf("问答失败, question: '%s': %v", req.Question, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "问答失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": answer})
}

// currentUserID 从认证中间件存入的上下文里取当前用户实体标识，匿名调用返回空串。
func currentUserID(c *gin.Context) string {
	raw, exists := c.Get("user")
	if !exists {
		return ""
	}
	rec, ok := raw.(*model.EntityRecord)
	if !ok {
		return ""
	}
	return rec.EntityID
}
