package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ledgerbase-go/internal/config"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/pkg/llm"
	"ledgerbase-go/pkg/log"
	"ledgerbase-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// AskHandler 负责处理 WebSocket 流式问答连接。
// 每条入站消息是一个问题：先做语义检索，再把生成结果分块推回连接。
type AskHandler struct {
	searchService service.SearchService
	llmClient     llm.Client
	jwtManager    *token.JWTManager
	llmCfg        config.LLMConfig
}

// NewAskHandler 创建一个新的 AskHandler 实例。
func NewAskHandler(searchService service.SearchService, llmClient llm.Client, jwtManager *token.JWTManager, llmCfg config.LLMConfig) *AskHandler {
	return &AskHandler{
		searchService: searchService,
		llmClient:     llmClient,
		jwtManager:    jwtManager,
		llmCfg:        llmCfg,
	}
}

// Handle 处理一个传入的 WebSocket 连接。token 经 URL 参数传入，
// 因为浏览器的 WebSocket API 不支持自定义请求头。
func (h *AskHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 问答连接已建立, 用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		question := strings.TrimSpace(string(message))
		if question == "" {
			continue
		}
		log.Infof("收到 WebSocket 问题: %s", question)

		h.streamAnswer(c, conn, claims.UserID, question)

		// 流结束标记
		_ = conn.WriteMessage(websocket.TextMessage, []byte("[DONE]"))
	}
}

// streamAnswer 检索并流式生成一个问题的回答。
func (h *AskHandler) streamAnswer(c *gin.Context, conn *websocket.Conn, ownerID, question string) {
	results, err := h.searchService.Search(c.Request.Context(), question, service.SearchOptions{OwnerFilter: ownerID})
	if err != nil {
		log.Errorf("WebSocket 问答检索失败: %v", err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("检索失败，请稍后重试。"))
		return
	}
	if len(results) == 0 {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(h.noResultText()))
		return
	}

	var contextBlock strings.Builder
	for i, r := range results {
		if i > 0 {
			contextBlock.WriteString("\n---\n")
		}
		contextBlock.WriteString(r.ContentPreview)
	}

	// 流式路径与 POST /ask 共用同一个提示构造器，配置的提示规则两边一致生效
	messages := llm.BuildMessages(h.llmCfg.Prompt, question, contextBlock.String())

	start := time.Now()
	if err := h.llmClient.StreamChatMessages(c.Request.Context(), messages, nil, conn); err != nil {
		log.Errorf("WebSocket 流式生成失败: %v", err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("生成回答失败，请稍后重试。"))
		return
	}
	log.Infof("WebSocket 流式回答完成, 耗时: %s, 来源数: %d", time.Since(start), len(results))
}

func (h *AskHandler) noResultText() string {
	if h.llmCfg.Prompt.NoResultText != "" {
		return h.llmCfg.Prompt.NoResultText
	}
	return "资料不足，无法回答该问题。"
}
