package cmd

import (
	"github.com/0glabs/0g-dirview/indexer"
	"github.com/0glabs/0g-dirview/sorting"
	"github.com/0glabs/0g-dirview/tree/fspath"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// indexArgument holds the flags shared by every command that opens an index.
// Flags override the config file only when set explicitly.
type indexArgument struct {
	noCustomIcons bool
	noWatch       bool
	sortKey       string
	desc          bool
	routines      int
}

func bindIndexFlags(cmd *cobra.Command, args *indexArgument) {
	cmd.Flags().BoolVarP(&args.noCustomIcons, "no-custom-icons", "c", false, "Classify entries by kind and extension only, without probing contents")
	cmd.Flags().BoolVarP(&args.noWatch, "no-watch", "w", false, "Do not watch loaded directories for changes")
	cmd.Flags().StringVar(&args.sortKey, "sort", sorting.ByName.String(), "Sort key: name, size, kind or mtime")
	cmd.Flags().BoolVar(&args.desc, "desc", false, "Sort in descending order")
	cmd.Flags().IntVar(&args.routines, "routines", 0, "Number of routines to stat entries, the number of CPUs by default")
}

func (args *indexArgument) config(cmd *cobra.Command, positional []string) (indexer.Config, error) {
	config := indexer.DefaultConfig()

	if configFile != "" {
		var err error
		if config, err = indexer.LoadConfig(configFile); err != nil {
			return config, err
		}
	}

	flags := cmd.Flags()

	if flags.Changed("no-custom-icons") {
		config.DisableCustomIconClassification = args.noCustomIcons
	}

	if flags.Changed("no-watch") {
		config.DisableChangeWatching = args.noWatch
	}

	if flags.Changed("sort") || flags.Changed("desc") {
		key, err := sorting.ParseKey(args.sortKey)
		if err != nil {
			return config, err
		}

		direction := sorting.Ascending
		if args.desc {
			direction = sorting.Descending
		}

		config.Sort = config.Sort.WithKey(key, direction)
	}

	if flags.Changed("routines") {
		config.Loader.Routines = args.routines
	}

	// without a directory the whole filesystem is browsed from the root
	if len(positional) > 0 {
		start, err := fspath.Abs(positional[0])
		if err != nil {
			return config, errors.WithMessagef(err, "Invalid directory %v", positional[0])
		}
		config.StartPath = start
	}

	if config.StartPath == "" {
		config.StartPath = fspath.Root
	}

	return config, nil
}

func (args *indexArgument) open(cmd *cobra.Command, positional []string) (*indexer.Index, error) {
	config, err := args.config(cmd, positional)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"start":    config.StartPath,
		"sort":     config.Sort.Key,
		"watching": !config.DisableChangeWatching,
		"probing":  !config.DisableCustomIconClassification,
	}).Debug("Open index")

	return indexer.New(config, indexer.Option{Logger: logrus.StandardLogger()})
}
