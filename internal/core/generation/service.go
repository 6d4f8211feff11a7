package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/core/record"
	"github.com/jinford/article-rag/internal/core/run"
)

// CompletionRequest はLLMへの生成リクエスト
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int // 生成する最大トークン数
}

// CompletionResponse はLLMからの生成結果
type CompletionResponse struct {
	Content    string
	TokensUsed int
	Model      string
}

// LLMClient はLLM通信インターフェース
type LLMClient interface {
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Tokenizer はプロンプトを最大トークン数に収める
type Tokenizer interface {
	// Truncate は text を maxTokens トークン以内に切り詰め、切り詰め後のテキストとトークン数を返す
	Truncate(text string, maxTokens int) (string, int, error)
}

// Params はデコードパラメータ。データから導けないポリシー値なので設定で与える
type Params struct {
	Temperature     float64
	TopP            float64
	MaxNewTokens    int
	MaxPromptTokens int
	EndMarkers      []string
}

// DefaultParams はデフォルトのデコードパラメータを返す
func DefaultParams() Params {
	return Params{
		Temperature:     0.75,
		TopP:            0.9,
		MaxNewTokens:    512,
		MaxPromptTokens: 2048,
		EndMarkers:      DefaultEndMarkers,
	}
}

// Result は生成結果
type Result struct {
	Context      string
	Prompt       string // 切り詰め後にモデルへ渡したプロンプト
	PromptTokens int
	RawAnswer    string
	Answer       string // 終端マーカー以降を除去した回答
	Model        string
}

// Service は検索結果をもとに回答を生成する
type Service struct {
	llm       LLMClient
	tokenizer Tokenizer
	log       record.GenerationLog
	params    Params
	logger    *slog.Logger
}

type ServiceOption func(*Service)

// WithGenerationLogger は Service にロガーを設定する
func WithGenerationLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithParams はデコードパラメータを上書きする
func WithParams(params Params) ServiceOption {
	return func(s *Service) {
		s.params = params
	}
}

// NewService は新しい Service を作成する
func NewService(llm LLMClient, tokenizer Tokenizer, log record.GenerationLog, opts ...ServiceOption) *Service {
	svc := &Service{
		llm:       llm,
		tokenizer: tokenizer,
		log:       log,
		params:    DefaultParams(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Generate は r.Query に対する回答を chunks から生成し、生成ログに追記する
func (s *Service) Generate(ctx context.Context, r run.Run, chunks []string) (*Result, error) {
	const op = "generate"

	if r.Query == "" {
		return nil, apperr.Generation(op, fmt.Errorf("query is required"))
	}

	contextText := BuildContext(chunks)
	prompt := BuildPrompt(contextText, r.Query)
	s.logger.Info("prepared prompt from context chunks", "runID", r.ID, "chunks", len(chunks))

	prompt, promptTokens, err := s.tokenizer.Truncate(prompt, s.params.MaxPromptTokens)
	if err != nil {
		s.logger.Error("failed to tokenize prompt", "error", err)
		return nil, apperr.Generation(op, fmt.Errorf("failed to tokenize prompt: %w", err))
	}

	s.logger.Info("generating answer with LLM", "promptTokens", promptTokens, "maxNewTokens", s.params.MaxNewTokens)
	resp, err := s.llm.GenerateCompletion(ctx, CompletionRequest{
		Prompt:      prompt,
		Temperature: s.params.Temperature,
		TopP:        s.params.TopP,
		MaxTokens:   s.params.MaxNewTokens,
	})
	if err != nil {
		s.logger.Error("failed to generate answer", "error", err)
		return nil, apperr.Generation(op, fmt.Errorf("failed to generate answer: %w", err))
	}

	answer := StripAtEndMarker(resp.Content, s.params.EndMarkers)

	row := record.Generation{
		RunID:   r.ID,
		Query:   r.Query,
		Context: contextText,
		Answer:  answer,
	}
	if err := s.log.AppendGenerations(ctx, []record.Generation{row}); err != nil {
		s.logger.Error("failed to append generation log", "error", err)
		return nil, err
	}

	s.logger.Info("answer generated", "runID", r.ID, "answerLength", len(answer))
	return &Result{
		Context:      contextText,
		Prompt:       prompt,
		PromptTokens: promptTokens,
		RawAnswer:    resp.Content,
		Answer:       answer,
		Model:        resp.Model,
	}, nil
}
