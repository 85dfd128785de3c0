package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/jacksonlevine/pictosend/common/types"
	"github.com/jacksonlevine/pictosend/config"
	"github.com/jacksonlevine/pictosend/filesystem"
	"github.com/jacksonlevine/pictosend/history"
)

func historyCommand() *cobra.Command {
	var path string
	c := &cobra.Command{
		Use:   "history",
		Short: "work with a persisted history file",
	}
	c.PersistentFlags().StringVar(&path, "file", config.DefaultBaseConfig().HistoryPath, "history file")
	c.AddCommand(inspectCommand(&path), exportCommand(&path))
	return c
}

func loadHistory(path string) ([]*types.UpdateRecord, error) {
	records, err := history.NewFileStore(filesystem.GetCanonicalPath(path)).Load()
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", path, err)
	}
	return records, nil
}

func drawn(pixels *types.Pixels) int {
	n := 0
	for _, p := range pixels {
		if p != 0 {
			n++
		}
	}
	return n
}

func inspectCommand(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "print the records of a history file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			records, err := loadHistory(*path)
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprintf(out, "records = %d\n", len(records))
			for i, rec := range records {
				fmt.Fprintf(out, "%d\tproducer=%s\ttimestamp=%s\tdrawn=%d\n",
					i, rec.Producer, rec.Timestamp, drawn(&rec.Pixels))
			}
			return nil
		},
	}
}

// exportName is unique per record: the index keeps records with equal timestamps apart.
func exportName(i int, rec *types.UpdateRecord) string {
	producer := rec.Producer.String()
	if producer == "" {
		producer = "unknown"
	}
	return fmt.Sprintf("%02d-%s-%s.png", i, filepath.Base(producer), rec.Timestamp)
}

func exportCommand(path *string) *cobra.Command {
	var dir string
	c := &cobra.Command{
		Use:   "export",
		Short: "write every record of a history file as a png",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			records, err := loadHistory(*path)
			if err != nil {
				return err
			}
			dir = filesystem.GetCanonicalPath(dir)
			if err := os.MkdirAll(dir, filesystem.OwnerReadWriteExec); err != nil {
				return fmt.Errorf("create dir %s: %w", dir, err)
			}
			for i, rec := range records {
				buf, err := encodePNG(&rec.Pixels)
				if err != nil {
					return err
				}
				dst := filepath.Join(dir, exportName(i, rec))
				if err := atomic.WriteFile(dst, bytes.NewReader(buf)); err != nil {
					return fmt.Errorf("write %s: %w", dst, err)
				}
			}
			fmt.Fprintf(c.OutOrStdout(), "exported %d records to %s\n", len(records), dir)
			return nil
		},
	}
	c.Flags().StringVar(&dir, "out", ".", "directory for the exported images")
	return c
}
