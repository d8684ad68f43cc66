package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List download queue entries",
		RunE:  queueRun,
	}
}

func queueRun(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.store.Close()

	rows, err := comps.store.ListDownloads()
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	for _, row := range rows {
		size := "?"
		if row.TotalSize > 0 {
			size = humanize.Bytes(uint64(row.TotalSize))
		}
		fmt.Printf("%s  %-11s  %s / %s  %s\n",
			row.ID, row.Status, humanize.Bytes(uint64(row.Downloaded)), size, row.URL)
		if row.Error != "" {
			fmt.Printf("    error: %s\n", row.Error)
		}
	}
	return nil
}
