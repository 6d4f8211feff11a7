package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jinford/article-rag/internal/core/apperr"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定（vector_store.backend が postgres の場合に使用）
	Database DatabaseConfig

	// OpenAI 互換 API の設定
	OpenAI OpenAIConfig

	// ログ設定
	Log LogConfig

	// パイプライン設定（YAML）
	Settings Settings
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // 互換 API を使う場合のみ指定
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// Settings は設定ファイル（YAML）の内容
type Settings struct {
	EmbeddingModel     string              `yaml:"embedding_model"`
	EmbeddingDimension int                 `yaml:"embedding_dimension"`
	TextToTextModel    string              `yaml:"text_to_text_model"`
	DataIngestion      IngestionSettings   `yaml:"data_ingestion"`
	DataProcessing     ProcessingSettings  `yaml:"data_processing"`
	DataRetriever      RetrieverSettings   `yaml:"data_retriever"`
	DataGenerator      GeneratorSettings   `yaml:"data_generator"`
	VectorStore        VectorStoreSettings `yaml:"vector_store"`
	Artifacts          ArtifactSettings    `yaml:"artifacts"`
	Server             ServerSettings      `yaml:"server"`
}

// IngestionSettings は data_ingestion セクション
type IngestionSettings struct {
	URLs            []string      `yaml:"urls"`
	ContentFileName string        `yaml:"content_file_name"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

// ProcessingSettings は data_processing セクション
type ProcessingSettings struct {
	ChunkSize        int `yaml:"chunk_size"`
	OverlapChunkSize int `yaml:"overlap_chunk_size"`
}

// RetrieverSettings は data_retriever セクション
type RetrieverSettings struct {
	TopK int `yaml:"top_k"`
}

// GeneratorSettings は data_generator セクション
type GeneratorSettings struct {
	Model            string   `yaml:"model"` // 空の場合は text_to_text_model
	TopK             int      `yaml:"top_k"` // Web フロントエンドの取得件数。0 の場合は data_retriever.top_k
	Temperature      float64  `yaml:"temperature"`
	TopP             float64  `yaml:"top_p"`
	MaxNewTokens     int      `yaml:"max_new_tokens"`
	MaxPromptTokens  int      `yaml:"max_prompt_tokens"`
	EndOfTurnMarkers []string `yaml:"end_of_turn_markers"`
	CacheSize        int      `yaml:"cache_size"` // クエリ埋め込みキャッシュの件数

	// RequestTimeout は生成 API 1 回あたりのタイムアウト。0 の場合はクライアントの既定値
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// VectorStoreSettings は vector_store セクション
type VectorStoreSettings struct {
	Backend string `yaml:"backend"` // "badger" or "postgres"
}

// ArtifactSettings は artifacts セクション
type ArtifactSettings struct {
	Root string `yaml:"root"`
}

// ServerSettings は server セクション
type ServerSettings struct {
	Addr string `yaml:"addr"`
}

// バックエンド名
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// DefaultSettings は設定ファイルで省略された項目の既定値を返します
func DefaultSettings() Settings {
	return Settings{
		EmbeddingModel:  "text-embedding-3-small",
		TextToTextModel: "gpt-4o-mini",
		DataIngestion: IngestionSettings{
			ContentFileName: "content_data.txt",
			FetchTimeout:    15 * time.Second,
		},
		DataProcessing: ProcessingSettings{
			ChunkSize:        1000,
			OverlapChunkSize: 200,
		},
		DataRetriever: RetrieverSettings{TopK: 5},
		DataGenerator: GeneratorSettings{
			Temperature:      0.75,
			TopP:             0.9,
			MaxNewTokens:     512,
			MaxPromptTokens:  2048,
			EndOfTurnMarkers: []string{"<|end|>", "|end|"},
			CacheSize:        1024,
		},
		VectorStore: VectorStoreSettings{Backend: BackendBadger},
		Artifacts:   ArtifactSettings{Root: "artifacts"},
		Server:      ServerSettings{Addr: ":8080"},
	}
}

// Load は環境変数または.envファイルと、設定ファイル（YAML）から設定を読み込みます
func Load(envFilePath, settingsPath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, apperr.Config("load env", "failed to load .env file: %v", err)
			}
		}
	}

	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "rag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "rag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Log: LogConfig{
			Level:  parseLevel(getEnv("LOG_LEVEL", "info")),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Settings: *settings,
	}

	return cfg, nil
}

// LoadSettings は設定ファイルを読み込み、既定値に上書きします。path が空の場合は既定値のみ
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return &settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("load settings", "failed to read %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, apperr.Config("load settings", "failed to parse %s: %v", path, err)
	}
	return &settings, nil
}

// Validate は共通の設定値を検証します
func (s *Settings) Validate() error {
	const op = "validate settings"

	if s.EmbeddingModel == "" {
		return apperr.Config(op, "embedding_model is required")
	}
	if s.GeneratorModel() == "" {
		return apperr.Config(op, "text_to_text_model is required")
	}
	if s.DataProcessing.ChunkSize <= 0 {
		return apperr.Config(op, "data_processing.chunk_size must be positive, got %d", s.DataProcessing.ChunkSize)
	}
	if o := s.DataProcessing.OverlapChunkSize; o < 0 || o >= s.DataProcessing.ChunkSize {
		return apperr.Config(op, "data_processing.overlap_chunk_size must satisfy 0 <= overlap < chunk_size, got %d", o)
	}
	if s.DataRetriever.TopK <= 0 {
		return apperr.Config(op, "data_retriever.top_k must be positive, got %d", s.DataRetriever.TopK)
	}
	if s.DataGenerator.TopK < 0 {
		return apperr.Config(op, "data_generator.top_k must not be negative, got %d", s.DataGenerator.TopK)
	}
	if s.DataGenerator.RequestTimeout < 0 {
		return apperr.Config(op, "data_generator.request_timeout must not be negative, got %s", s.DataGenerator.RequestTimeout)
	}
	if s.DataGenerator.MaxNewTokens <= 0 {
		return apperr.Config(op, "data_generator.max_new_tokens must be positive, got %d", s.DataGenerator.MaxNewTokens)
	}
	switch s.VectorStore.Backend {
	case BackendBadger, BackendPostgres:
	default:
		return apperr.Config(op, "unknown vector_store.backend %q", s.VectorStore.Backend)
	}
	return nil
}

// ValidateIngestion はインジェスションに必要な設定値を検証します
func (s *Settings) ValidateIngestion() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if len(s.DataIngestion.URLs) == 0 {
		return apperr.Config("validate settings", "data_ingestion.urls must not be empty")
	}
	if s.DataIngestion.ContentFileName == "" {
		return apperr.Config("validate settings", "data_ingestion.content_file_name is required")
	}
	return nil
}

// GeneratorModel は生成に使うモデル名を返します
func (s *Settings) GeneratorModel() string {
	if s.DataGenerator.Model != "" {
		return s.DataGenerator.Model
	}
	return s.TextToTextModel
}

// ServerTopK は Web フロントエンドの取得件数を返します
func (s *Settings) ServerTopK() int {
	if s.DataGenerator.TopK > 0 {
		return s.DataGenerator.TopK
	}
	return s.DataRetriever.TopK
}

// Paths は成果物の配置先
type Paths struct {
	Content     string
	Chunks      string
	VectorDB    string
	Retrievals  string
	Generations string
}

// Paths は artifacts.root 配下の成果物パスを返します
func (s *Settings) Paths() Paths {
	root := s.Artifacts.Root
	return Paths{
		Content:     filepath.Join(root, "raw", s.DataIngestion.ContentFileName),
		Chunks:      filepath.Join(root, "processed", "chunks.csv"),
		VectorDB:    filepath.Join(root, "processed", "vector_db"),
		Retrievals:  filepath.Join(root, "retrieval", "retrieved.csv"),
		Generations: filepath.Join(root, "generator", "generated.csv"),
	}
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// String はログ出力用に秘密情報を伏せた表現を返します
func (c OpenAIConfig) String() string {
	key := "unset"
	if c.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf("OpenAIConfig{APIKey:%s BaseURL:%q}", key, c.BaseURL)
}
