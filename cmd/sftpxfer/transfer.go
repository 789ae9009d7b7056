package main

import (
	"context"
	"fmt"

	sftpxfer "github.com/eleztian/go-sftpxfer"
	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put LOCAL REMOTE",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer("Uploading", args[0], args[1], (*sftpxfer.Client).Put)
	},
}

var getCmd = &cobra.Command{
	Use:   "get REMOTE LOCAL",
	Short: "Download a remote file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer("Downloading", args[0], args[1], (*sftpxfer.Client).Get)
	},
}

type transferFunc func(c *sftpxfer.Client, ctx context.Context, src, dst string) (sftpxfer.Result, error)

func runTransfer(operation, src, dst string, transfer transferFunc) error {
	ctx, stop := signalContext()
	defer stop()

	bar := newProgressUI(operation, src)
	m, cli, err := connect(ctx, sftpxfer.WithProgress(bar.Update))
	if err != nil {
		return err
	}
	defer disconnect(m, cli)

	res, err := transfer(cli, ctx, src, dst)
	if err != nil {
		return err
	}
	bar.Finish()

	switch r := res.(type) {
	case sftpxfer.Completed:
		fmt.Printf("%s -> %s: %d bytes\n", r.Progress.Source, r.Progress.Dest, r.Progress.TotalBytes)
	case sftpxfer.Cancelled:
		fmt.Printf("%s -> %s: cancelled\n", r.Source, r.Dest)
	case sftpxfer.InProgress:
		return fmt.Errorf("transfer returned before finishing: %.1f%%", r.Progress.PercentComplete)
	default:
		return fmt.Errorf("unexpected result %T", res)
	}
	return nil
}
