package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/httpclient"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	host       string
	apiKey     string
	model      string
	dimension  int
	httpClient *httpclient.Client
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder builds the embedder from the LLM provider settings plus
// the vector dimension.
func NewOpenAIEmbedder(llmCfg config.LLMConfig, dim int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		host:       llmCfg.Host,
		apiKey:     llmCfg.APIKey,
		model:      "text-embedding-3-small",
		dimension:  dim,
		httpClient: httpclient.New(httpclient.WithMaxRetries(llmCfg.MaxRetries)),
	}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	headers := map[string]string{}
	if e.apiKey != "" {
		headers["Authorization"] = "Bearer " + e.apiKey
	}

	data, err := e.httpClient.PostJSON(ctx, e.host+"/embeddings", headers, embedRequest{
		Model: e.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("malformed embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return parsed.Data[0].Embedding, nil
}
