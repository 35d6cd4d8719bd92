package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbase-go/internal/config"
)

// memoryWriter 收集流式分块。
type memoryWriter struct {
	chunks []string
}

func (w *memoryWriter) WriteMessage(_ int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

func newChatServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		BaseURL: srv.URL,
		Model:   "test-llm",
		APIKey:  "test-key",
	})
}

func completionBody(content, finishReason string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"content": content},
			"finish_reason": finishReason,
		}},
	})
	return string(body)
}

func TestGenerateWrapsContextInSystemMessage(t *testing.T) {
	var received chatRequest
	c := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		fmt.Fprint(w, completionBody("回答内容", "stop"))
	})

	gen, err := c.Generate(context.Background(), "问题是什么", "参考资料块")
	require.NoError(t, err)
	assert.Equal(t, "回答内容", gen.Text)
	assert.InDelta(t, 0.9, gen.Confidence, 1e-9)

	require.Len(t, received.Messages, 2)
	assert.Equal(t, "system", received.Messages[0].Role)
	assert.Contains(t, received.Messages[0].Content, "参考资料块")
	assert.Contains(t, received.Messages[0].Content, "<<REF>>")
	assert.Contains(t, received.Messages[0].Content, "<<END>>")
	assert.Equal(t, "user", received.Messages[1].Role)
	assert.Equal(t, "问题是什么", received.Messages[1].Content)
	assert.False(t, received.Stream)
}

func TestBuildMessagesHonorsConfiguredPrompt(t *testing.T) {
	prompt := config.LLMPromptConfig{
		Rules:    "只引用资料，引用处标注来源。",
		RefStart: "[资料开始]",
		RefEnd:   "[资料结束]",
	}

	messages := BuildMessages(prompt, "问题是什么", "参考资料块")
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "只引用资料，引用处标注来源。")
	assert.Contains(t, messages[0].Content, "[资料开始]")
	assert.Contains(t, messages[0].Content, "[资料结束]")
	assert.NotContains(t, messages[0].Content, "<<REF>>")
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "问题是什么", messages[1].Content)
}

func TestBuildMessagesDefaults(t *testing.T) {
	messages := BuildMessages(config.LLMPromptConfig{}, "问题", "资料")
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].Content, "<<REF>>")
	assert.Contains(t, messages[0].Content, "<<END>>")
	assert.Contains(t, messages[0].Content, "不要编造")
}

func TestGenerateDiscountsTruncatedAnswer(t *testing.T) {
	c := newChatServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, completionBody("被截断的回答", "length"))
	})

	gen, err := c.Generate(context.Background(), "问题", "资料")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, gen.Confidence, 1e-9)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("非 200 状态码", func(t *testing.T) {
		c := newChatServer(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "限流", http.StatusTooManyRequests)
		})
		_, err := c.Generate(context.Background(), "问题", "资料")
		assert.Error(t, err)
	})

	t.Run("空 choices", func(t *testing.T) {
		c := newChatServer(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"choices":[]}`)
		})
		_, err := c.Generate(context.Background(), "问题", "资料")
		assert.Error(t, err)
	})
}

func TestStreamChatMessages(t *testing.T) {
	c := newChatServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"你\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"好\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	writer := &memoryWriter{}
	err := c.StreamChatMessages(context.Background(), []Message{
		{Role: "user", Content: "打个招呼"},
	}, nil, writer)
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好"}, writer.chunks)
}
