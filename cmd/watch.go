package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0glabs/0g-dirview/common/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	watchArgs struct {
		index         indexArgument
		statsInterval time.Duration
	}

	watchCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Load a directory and stream its change events until interrupted",
		Args:  cobra.MaximumNArgs(1),
		Run:   watchTree,
	}
)

func init() {
	bindIndexFlags(watchCmd, &watchArgs.index)
	watchCmd.Flags().DurationVar(&watchArgs.statsInterval, "stats-interval", time.Minute, "Interval to log index statistics, 0 to disable")

	rootCmd.AddCommand(watchCmd)
}

func watchTree(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, err := watchArgs.index.open(cmd, args)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open index")
	}
	defer index.Close()

	sub := index.Subscribe()
	defer sub.Close()

	start := index.Start()
	children, err := index.Wait(ctx, start)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load directory")
	}

	path, _ := index.PathFor(start)
	logrus.WithFields(logrus.Fields{
		"path":     path,
		"children": len(children),
	}).Info("Directory loaded, watching for changes")

	if watchArgs.statsInterval > 0 {
		go util.ScheduleNow(ctx, func() error {
			stats := index.Stats()
			logrus.WithFields(logrus.Fields{
				"nodes":        stats.Nodes,
				"loaded":       stats.Loaded,
				"watched":      stats.Watched,
				"enumerations": stats.Enumerations,
				"probes":       stats.Probes,
			}).Info("Index statistics")
			return nil
		}, watchArgs.statsInterval, "Failed to report statistics")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}

			logrus.WithFields(logrus.Fields{
				"seq":      event.Seq,
				"parent":   event.Parent,
				"handle":   event.Handle,
				"position": event.Position,
				"state":    event.State,
			}).Info(event.Type.String() + " " + event.Path)
		}
	}
}
