package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls DIR",
	Short: "List the regular files in a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		m, cli, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(m, cli)

		files, err := cli.Ls(ctx, args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, f := range files {
			size, modified := "-", "-"
			if f.Size != nil {
				size = fmt.Sprint(*f.Size)
			}
			if f.LastModified != nil {
				modified = f.LastModified.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", size, modified, f.Path)
		}
		return w.Flush()
	},
}
