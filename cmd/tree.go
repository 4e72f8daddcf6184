package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/0glabs/0g-dirview/indexer"
	"github.com/0glabs/0g-dirview/tree"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	treeArgs struct {
		index   indexArgument
		depth   int
		timeout time.Duration
	}

	treeCmd = &cobra.Command{
		Use:   "tree [directory]",
		Short: "Print the tree of a directory",
		Args:  cobra.MaximumNArgs(1),
		Run:   printTree,
	}
)

func init() {
	bindIndexFlags(treeCmd, &treeArgs.index)
	treeCmd.Flags().IntVar(&treeArgs.depth, "depth", 1, "Levels to expand below the directory, 0 for unlimited")
	treeCmd.Flags().DurationVar(&treeArgs.timeout, "timeout", 0, "Give up waiting for directory loads after this duration")

	rootCmd.AddCommand(treeCmd)
}

func printTree(cmd *cobra.Command, args []string) {
	index, err := treeArgs.index.open(cmd, args)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open index")
	}
	defer index.Close()

	ctx := context.Background()
	if treeArgs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, treeArgs.timeout)
		defer cancel()
	}

	printer := treePrinter{index: index, out: os.Stdout, depth: treeArgs.depth}
	if err = printer.print(ctx, index.Start()); err != nil {
		logrus.WithError(err).Fatal("Failed to print tree")
	}
}

type treePrinter struct {
	index indexer.Interface
	out   io.Writer
	depth int
}

func (p *treePrinter) print(ctx context.Context, handle tree.Handle) error {
	md, err := p.index.Metadata(handle)
	if err != nil {
		return err
	}

	fmt.Fprintln(p.out, md.Path)

	return p.expand(ctx, handle, "", 1)
}

func (p *treePrinter) expand(ctx context.Context, handle tree.Handle, indent string, level int) error {
	children, err := p.index.Wait(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(p.out, "%v└── [%v]\n", indent, err)
		return nil
	}

	for i, child := range children {
		md, err := p.index.Metadata(child)
		if err != nil {
			// removed while printing
			continue
		}

		branch, next := "├── ", "│   "
		if i == len(children)-1 {
			branch, next = "└── ", "    "
		}

		fmt.Fprintf(p.out, "%v%v%v\n", indent, branch, describe(md))

		if md.Kind.IsDir() && (p.depth <= 0 || level < p.depth) {
			if err = p.expand(ctx, child, indent+next, level+1); err != nil {
				return err
			}
		}
	}

	return nil
}

func describe(md tree.Metadata) string {
	var sb strings.Builder
	sb.WriteString(md.Name)

	if md.Kind.IsDir() {
		sb.WriteString("/")
	}

	var details []string
	if md.Size != nil {
		details = append(details, fmt.Sprintf("%v B", *md.Size))
	}
	if md.Type != "" && !md.Kind.IsDir() {
		details = append(details, md.Type)
	}
	if md.Degraded != nil {
		details = append(details, md.Degraded.Error())
	}

	if len(details) > 0 {
		fmt.Fprintf(&sb, "  (%v)", strings.Join(details, ", "))
	}

	return sb.String()
}
