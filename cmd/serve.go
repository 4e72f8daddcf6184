package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/0glabs/0g-dirview/indexer/gateway"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveArgs struct {
		index    indexArgument
		endpoint string
		origins  []string
	}

	serveCmd = &cobra.Command{
		Use:   "serve [directory]",
		Short: "Start the HTTP gateway to browse and watch the index",
		Args:  cobra.MaximumNArgs(1),
		Run:   serveIndex,
	}
)

func init() {
	bindIndexFlags(serveCmd, &serveArgs.index)
	serveCmd.Flags().StringVar(&serveArgs.endpoint, "endpoint", ":12345", "Gateway HTTP endpoint")
	serveCmd.Flags().StringSliceVar(&serveArgs.origins, "origins", nil, "CORS origins allowed, separated by comma, all by default")

	rootCmd.AddCommand(serveCmd)
}

func serveIndex(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, err := serveArgs.index.open(cmd, args)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open index")
	}
	defer index.Close()

	gateway.MustServe(ctx, index, gateway.Config{
		Endpoint:       serveArgs.endpoint,
		OriginsAllowed: serveArgs.origins,
	})

	logrus.Info("Gateway stopped")
}
