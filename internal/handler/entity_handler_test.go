package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbase-go/internal/cache"
	"ledgerbase-go/internal/model"
	"ledgerbase-go/internal/service"
	"ledgerbase-go/internal/store"
	"ledgerbase-go/pkg/ledger"
)

func newEntityRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	entityStore := store.NewEntityStore(ledger.NewMemoryGateway(), cache.NewMemoryCache(5*time.Minute), nil)
	h := NewEntityHandler(service.NewEntityService(entityStore, nil))

	r := gin.New()
	entities := r.Group("/api/v1/entities")
	{
		entities.POST("/:kind", h.Create)
		entities.GET("/:kind", h.List)
		entities.GET("/:kind/:id", h.Get)
		entities.PUT("/:kind/:id", h.Update)
		entities.DELETE("/:kind/:id", h.Delete)
	}
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type entityEnvelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func createdEntityID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env entityEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var dto struct {
		EntityID string `json:"entityId"`
		Version  int    `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	return dto.EntityID
}

func TestEntityHandlerCRUD(t *testing.T) {
	r := newEntityRouter()

	// 创建
	w := doJSON(r, http.MethodPost, "/api/v1/entities/document",
		`{"fields":{"title":"标题","content":"正文","ownerId":"user-1"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := createdEntityID(t, w)
	require.NotEmpty(t, id)

	// 读取
	w = doJSON(r, http.MethodGet, "/api/v1/entities/document/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":1`)
	assert.Contains(t, w.Body.String(), `"content":"正文"`)

	// 更新
	w = doJSON(r, http.MethodPut, "/api/v1/entities/document/"+id,
		`{"fields":{"title":"标题","content":"新正文","ownerId":"user-1"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":2`)

	// 删除
	w = doJSON(r, http.MethodDelete, "/api/v1/entities/document/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":true`)

	// 删除后的读取按缺席处理
	w = doJSON(r, http.MethodGet, "/api/v1/entities/document/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEntityHandlerListWithTagFilter(t *testing.T) {
	r := newEntityRouter()

	w := doJSON(r, http.MethodPost, "/api/v1/entities/project", `{"fields":{"name":"甲","ownerId":"user-1"}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(r, http.MethodPost, "/api/v1/entities/project", `{"fields":{"name":"乙","ownerId":"user-2"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/entities/project?ownerId=user-2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var env entityEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var dtos []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &dtos))
	assert.Len(t, dtos, 1)
	assert.Contains(t, string(dtos[0]), `"name":"乙"`)
}

func TestEntityHandlerValidation(t *testing.T) {
	r := newEntityRouter()

	t.Run("缺少 fields 的请求体", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/entities/document", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("未知实体类型", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/entities/gadget", `{"fields":{"name":"x"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("字段校验失败", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/v1/entities/document", `{"fields":{"title":"无正文"}}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不存在的实体", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/v1/entities/document/document-missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestEntityHandlerUserPasswordSanitized(t *testing.T) {
	r := newEntityRouter()

	w := doJSON(r, http.MethodPost, "/api/v1/entities/user",
		`{"fields":{"username":"alice","passwordHash":"$2a$10$secret","role":"USER"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// 对外视图绝不回显密码哈希
	assert.NotContains(t, w.Body.String(), "$2a$10$secret")

	var env entityEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var dto struct {
		Fields model.UserFields `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Empty(t, dto.Fields.PasswordHash)
	assert.Equal(t, "alice", dto.Fields.Username)
}
