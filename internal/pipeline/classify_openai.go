package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const visionPrompt = `You label facial expressions. Look at the face and answer with a single JSON object ` +
	`mapping each of angry, disgust, fear, happy, sad, surprise, neutral to a probability between 0 and 1. ` +
	`The probabilities must sum to 1. Answer with JSON only.`

// OpenAIClassifier asks an OpenAI-compatible vision model for an emotion
// score map. Works against any server implementing chat completions with
// image parts (OpenAI, Ollama, vLLM).
type OpenAIClassifier struct {
	client openai.Client
	model  string
}

// NewOpenAIClassifier creates a classifier for baseURL. apiKey may be empty
// for local servers.
func NewOpenAIClassifier(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClassifier {
	opts := []option.RequestOption{
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIClassifier{client: openai.NewClient(opts...), model: model}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, face []byte) (Result, error) {
	start := time.Now()
	dataURI := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(face)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(visionPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Classify this face."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURI}),
			}),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return Result{}, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, nil
	}

	scores, err := parseScoreJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return Result{}, fmt.Errorf("vision scores: %w", err)
	}
	return resultFromScores(scores, time.Since(start)), nil
}

// parseScoreJSON extracts the first JSON object from a model reply, which
// may be wrapped in prose or a code fence.
func parseScoreJSON(content string) (map[string]float64, error) {
	begin := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if begin < 0 || end <= begin {
		return nil, fmt.Errorf("no json object in reply %q", content)
	}
	var scores map[string]float64
	if err := json.Unmarshal([]byte(content[begin:end+1]), &scores); err != nil {
		return nil, err
	}
	return scores, nil
}
