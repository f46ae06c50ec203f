package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedSummary struct {
	Name    string `json:"name" jsonschema:"required"`
	Summary string `json:"summary" jsonschema:"required"`
}

func TestOpenRouter_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-or", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0.25,0.5]},
			{"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer server.Close()

	client := NewOpenRouter(OpenRouterConfig{APIKey: "sk-or", BaseURL: server.URL})
	vectors, err := client.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0.25, 0.5}}, vectors)
}

func TestOpenRouter_ChatJSON(t *testing.T) {
	var format map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		format, _ = body["response_format"].(map[string]interface{})

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","created":0,"model":"qwen/qwen-plus",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant",
			"content":"{\"name\":\"X\",\"summary\":\"Y\"}"}}]}`))
	}))
	defer server.Close()

	client := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
	var out namedSummary
	err := client.ChatJSON(context.Background(), "summarise", "cluster_summary", GenerateSchema[namedSummary](), &out)
	require.NoError(t, err)
	assert.Equal(t, namedSummary{Name: "X", Summary: "Y"}, out)
	assert.Equal(t, "json_schema", format["type"])
}

func TestOpenRouter_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient credits","code":"insufficient_credits"}}`))
	}))
	defer server.Close()

	client := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
	_, err := client.Embed(context.Background(), []string{"x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusPaymentRequired, se.StatusCode)
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema[namedSummary]()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []interface{}{"name", "summary"}, schema["required"])
	assert.NotContains(t, schema, "$schema")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(` {"a":1} `))
}
