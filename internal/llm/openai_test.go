package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

func TestNew_Disabled(t *testing.T) {
	_, err := New(common.LLMConfig{Enabled: false}, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestNew_TalksToCompatibleServer(t *testing.T) {
	var hits atomic.Int32
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer none", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"local",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer srv.Close()

	model, err := New(common.LLMConfig{
		Enabled: true,
		BaseURL: srv.URL + "/v1",
		Model:   "local",
		Timeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)

	resp, err := model.GenerateContent(context.Background(),
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hi")},
		llms.WithJSONMode(),
	)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, `{"ok":true}`, resp.Choices[0].Content)
	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, body, `"model":"local"`)
}
