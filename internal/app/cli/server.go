package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	httpapi "github.com/jinford/article-rag/internal/interface/http"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := newAppContextFromCommand(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	c := appCtx.Container
	addr := cmd.String("addr")
	if addr == "" {
		addr = c.Config.Settings.Server.Addr
	}

	router := httpapi.NewRouter(c.AskPipeline, c.Metrics, httpapi.WithRouterLogger(appCtx.Logger()))
	_, err = runStage(appCtx.Logger(), "server", func() (struct{}, error) {
		return struct{}{}, httpapi.Serve(ctx, addr, router, appCtx.Logger())
	})
	return err
}
