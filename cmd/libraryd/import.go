package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookstore/library/internal/events"
	"github.com/bookstore/library/internal/library"
	"github.com/bookstore/library/internal/repo"
)

func newImportBooksCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import-books",
		Short: "Load books from a JSON array, skipping ISBNs already present",
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := readBooks(file)
			if err != nil {
				return err
			}

			_, log, database, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer database.Close()

			inventory := library.NewInventory(repo.NewStore(database, log), events.NewNopPublisher(log), log)
			result, err := inventory.ImportBooks(cmd.Context(), books)
			if err != nil {
				return err
			}

			log.Info("Import finished", zap.Int("created", result.Created), zap.Int("skipped", result.Skipped))
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d\n", result.Created, result.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a JSON file holding an array of books")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readBooks(path string) ([]library.BookInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var books []library.BookInput
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return books, nil
}
