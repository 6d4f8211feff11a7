package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/article-rag/internal/app/cli"
)

// commonFlags は全コマンド共通のフラグ
func commonFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "設定ファイル（YAML）パス",
			Value: "config/config.yaml",
		},
	}
	return append(flags, extra...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "article-rag",
		Usage: "Web 記事を対象とした検索拡張生成（RAG）による質問応答",
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "記事を取得してチャンク化し、ベクトルインデックスを作成",
				Flags:  commonFlags(),
				Action: appcli.IngestAction,
			},
			{
				Name:      "generate",
				Usage:     "検索・回答生成・評価を実行",
				ArgsUsage: "[question]",
				Flags:     commonFlags(),
				Action:    appcli.GenerateAction,
			},
			{
				Name:      "ask",
				Usage:     "質問に回答（回答のみ表示）",
				ArgsUsage: "[question]",
				Flags:     commonFlags(),
				Action:    appcli.AskAction,
			},
			{
				Name:      "retrieve",
				Usage:     "関連チャンクの検索のみ実行",
				ArgsUsage: "[question]",
				Flags:     commonFlags(),
				Action:    appcli.RetrieveAction,
			},
			{
				Name:  "evaluate",
				Usage: "記録済みの実行を評価（省略時は最新の実行）",
				Flags: commonFlags(
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "評価対象の実行ID",
					},
				),
				Action: appcli.EvaluateAction,
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "質問フォームのHTTPサーバを起動",
						Flags: commonFlags(
							&cli.StringFlag{
								Name:  "addr",
								Usage: "待ち受けアドレス（省略時は設定ファイルの server.addr）",
							},
						),
						Action: appcli.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
