package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/article-rag/internal/core/apperr"
	"github.com/jinford/article-rag/internal/platform/config"
	"github.com/jinford/article-rag/internal/platform/container"
	"github.com/jinford/article-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Container *container.ServiceContainer
}

// NewAppContext は .env と設定ファイルを読み込み、AppContext を作成する
func NewAppContext(ctx context.Context, envFile, configFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Container: cont,
	}, nil
}

// newAppContextFromCommand は --env と --config フラグから AppContext を作成する
func newAppContextFromCommand(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	return NewAppContext(ctx, cmd.String("env"), cmd.String("config"))
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// runStage は処理段階の開始・失敗・終了をログに残す。終了ログは成否にかかわらず出力する
func runStage[T any](logger *slog.Logger, stage string, fn func() (T, error)) (T, error) {
	logger.Info(stage+" started", "stage", stage)
	defer logger.Info(stage+" finished", "stage", stage)

	v, err := fn()
	if err != nil {
		attrs := []any{"stage", stage, "error", err}
		if kind := apperr.KindOf(err); kind != nil {
			attrs = append(attrs, "kind", kind.Error())
		}
		logger.Error(stage+" failed", attrs...)
	}
	return v, err
}

// readQuestion は引数から質問文を取得する。引数が無ければ in からプロンプトで読み込む
func readQuestion(args []string, in io.Reader, out io.Writer) (string, error) {
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		return q, nil
	}

	fmt.Fprint(out, "Please enter your question: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("質問文の読み込みに失敗: %w", err)
	}
	q := strings.TrimSpace(line)
	if q == "" {
		return "", fmt.Errorf("質問文を指定してください")
	}
	return q, nil
}

func stdin(cmd *cli.Command) io.Reader {
	if r := cmd.Root().Reader; r != nil {
		return r
	}
	return os.Stdin
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
