package storyline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/stellarlinkco/lifethreads/internal/config"
)

// ErrNoResult marks generation output that could not be used.
var ErrNoResult = errors.New("generation produced no usable result")

// GeneratedUpdate is the structured answer expected for a narrative beat.
type GeneratedUpdate struct {
	UpdateType    string `json:"updateType" jsonschema:"required,description=One of the allowed update types"`
	Content       string `json:"content" jsonschema:"required,description=Two or three sentences in first person"`
	EmotionalTone string `json:"emotionalTone" jsonschema:"required,description=One or two words naming the feeling"`
}

type generatedSentence struct {
	Sentence string `json:"sentence" jsonschema:"required,description=Exactly one sentence"`
}

// LLMClient is the generation boundary. Implementations return ErrNoResult
// (possibly wrapped) for malformed output.
type LLMClient interface {
	GenerateUpdate(ctx context.Context, prompt string) (*GeneratedUpdate, error)
	GenerateSentence(ctx context.Context, prompt string) (string, error)
}

// responseSchema names a strict JSON schema for providers that support it.
type responseSchema struct {
	name   string
	desc   string
	schema map[string]any
}

var (
	updateSchema   = responseSchema{name: "StorylineUpdate", desc: "Storyline update JSON", schema: generateSchema[GeneratedUpdate]()}
	sentenceSchema = responseSchema{name: "Sentence", desc: "Single sentence JSON", schema: generateSchema[generatedSentence]()}
)

type completer interface {
	complete(ctx context.Context, prompt string, schema responseSchema) (string, error)
}

type llmClient struct {
	backend completer
	timeout time.Duration
}

// NewLLMClient builds a client for the configured generation provider.
// Provider type "openai" uses chat completions with strict schemas; anything
// else goes through the Anthropic provider.
func NewLLMClient(cfg *config.Config) LLMClient {
	p := cfg.GenerationProvider()
	timeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	httpClient := &http.Client{Timeout: timeout}

	var backend completer
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "openai":
		backend = newOpenAICompleter(p.APIKey, p.BaseURL, cfg.Generation.Model,
			cfg.Generation.MaxTokens, cfg.Generation.Temperature, httpClient)
	default:
		backend = newAnthropicCompleter(p.APIKey, p.BaseURL, cfg.Generation.Model,
			cfg.Generation.MaxTokens, cfg.Generation.Temperature, httpClient)
	}
	return &llmClient{backend: backend, timeout: timeout}
}

func (c *llmClient) GenerateUpdate(ctx context.Context, prompt string) (*GeneratedUpdate, error) {
	resp, err := c.call(ctx, prompt, updateSchema)
	if err != nil {
		return nil, fmt.Errorf("generate update: %w", err)
	}
	out, err := parseGeneratedUpdate(resp)
	if err != nil {
		return nil, fmt.Errorf("generate update: %w", err)
	}
	return out, nil
}

func (c *llmClient) GenerateSentence(ctx context.Context, prompt string) (string, error) {
	resp, err := c.call(ctx, prompt, sentenceSchema)
	if err != nil {
		return "", fmt.Errorf("generate sentence: %w", err)
	}
	out, err := parseSentence(resp)
	if err != nil {
		return "", fmt.Errorf("generate sentence: %w", err)
	}
	return out, nil
}

func (c *llmClient) call(ctx context.Context, prompt string, schema responseSchema) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.backend.complete(ctx, prompt, schema)
}

func parseGeneratedUpdate(raw string) (*GeneratedUpdate, error) {
	var out GeneratedUpdate
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResult, err)
	}
	out.UpdateType = strings.ToLower(strings.TrimSpace(out.UpdateType))
	out.Content = strings.TrimSpace(out.Content)
	out.EmotionalTone = strings.TrimSpace(out.EmotionalTone)
	if out.UpdateType == "" || out.Content == "" {
		return nil, fmt.Errorf("%w: missing updateType or content", ErrNoResult)
	}
	return &out, nil
}

// parseSentence accepts either the schema object or bare text.
func parseSentence(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if body := extractJSON(raw); strings.HasPrefix(body, "{") {
		var out generatedSentence
		if err := json.Unmarshal([]byte(body), &out); err == nil {
			raw = out.Sentence
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return "", fmt.Errorf("%w: empty sentence", ErrNoResult)
	}
	return raw, nil
}

// extractJSON strips markdown fences and surrounding prose from a model
// answer, returning the outermost JSON object when one is present.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

type openAICompleter struct {
	client      openai.Client
	apiKey      string
	model       string
	maxTokens   int64
	temperature float64
}

func newOpenAICompleter(apiKey, baseURL, modelName string, maxTokens int, temperature float64, httpClient *http.Client) *openAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(1),
	}
	if u := strings.TrimSpace(baseURL); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	return &openAICompleter{
		client:      openai.NewClient(opts...),
		apiKey:      strings.TrimSpace(apiKey),
		model:       modelName,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}
}

func (c *openAICompleter) complete(ctx context.Context, prompt string, schema responseSchema) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("missing generation api key")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing generation model")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(c.maxTokens),
		Temperature:         openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        schema.name,
					Description: openai.String(schema.desc),
					Schema:      schema.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", ErrNoResult)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content in response", ErrNoResult)
	}
	return content, nil
}

type anthropicCompleter struct {
	mdl model.Model
	err error
}

func newAnthropicCompleter(apiKey, baseURL, modelName string, maxTokens int, temperature float64, httpClient *http.Client) *anthropicCompleter {
	temp := temperature
	mdl, err := model.NewAnthropic(model.AnthropicConfig{
		APIKey:      apiKey,
		BaseURL:     strings.TrimSpace(baseURL),
		Model:       modelName,
		MaxTokens:   maxTokens,
		MaxRetries:  1,
		Temperature: &temp,
		HTTPClient:  httpClient,
	})
	if err != nil {
		log.Printf("[storyline] warning: generation provider unavailable: %v", err)
	}
	return &anthropicCompleter{mdl: mdl, err: err}
}

func (c *anthropicCompleter) complete(ctx context.Context, prompt string, schema responseSchema) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	shape, err := json.Marshal(schema.schema)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	full := prompt + "\n\nRespond with a single JSON object matching this schema and nothing else:\n" + string(shape)

	resp, err := c.mdl.Complete(ctx, model.Request{
		Messages: []model.Message{{Role: "user", Content: full}},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic complete: %w", err)
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content in response", ErrNoResult)
	}
	return content, nil
}

func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	strictObjects(m)
	return m
}

// strictObjects marks every object closed and every property required, which
// strict structured output requires.
func strictObjects(schema map[string]any) {
	delete(schema, "$schema")
	delete(schema, "$id")
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			sort.Strings(required)
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, prop := range props {
			if m, ok := prop.(map[string]any); ok {
				strictObjects(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		strictObjects(items)
	}
}
