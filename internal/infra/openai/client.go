package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/article-rag/internal/core/generation"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrNoChoices は生成結果が空の場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// Config は OpenAI 互換 API への接続設定
type Config struct {
	APIKey  string
	BaseURL string // 空の場合は OpenAI 公式エンドポイント
}

func (c Config) requestOptions() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		// リトライは backoff で行う
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	return opts
}

// Client は OpenAI API を使用した LLM クライアント実装
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
	backoff func() backoff.BackOff
}

// NewClient は新しい Client を作成する
func NewClient(cfg Config, model string) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client:  openai.NewClient(cfg.requestOptions()...),
		model:   model,
		timeout: DefaultTimeout,
		backoff: newRateLimitBackOff,
	}, nil
}

// SetTimeout はAPIコールのタイムアウトを設定する
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion は OpenAI API を使用してテキストを生成する
func (c *Client) GenerateCompletion(ctx context.Context, req generation.CompletionRequest) (generation.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := withRateLimitRetry(ctx, c.backoff(), func() (*openai.ChatCompletion, error) {
		return c.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return generation.CompletionResponse{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return generation.CompletionResponse{}, ErrNoChoices
	}

	return generation.CompletionResponse{
		Content:    completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
		Model:      string(completion.Model),
	}, nil
}

func newRateLimitBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = BaseBackoff
	b.MaxInterval = MaxBackoff
	b.Multiplier = 2
	return backoff.WithMaxRetries(b, MaxRetries)
}

// withRateLimitRetry はレート制限エラー (429) のときだけ指数バックオフで再試行する
func withRateLimitRetry[T any](ctx context.Context, b backoff.BackOff, call func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		res, err := call()
		if err != nil && !isRateLimitError(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithContext(b, ctx))
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}

// インターフェース実装の確認
var _ generation.LLMClient = (*Client)(nil)
