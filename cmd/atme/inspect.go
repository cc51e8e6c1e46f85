package main

import (
	"atme/repositories"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/spf13/cobra"
)

// RecordMapper decodes atme records for the debug inspector page.
func RecordMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	row.Type, row.Detail = repositories.Describe(key, val)
	return row
}

func newInspectCommand(a *app) *cobra.Command {
	var prefix string
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List raw database records by key prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := newTable(cmd.OutOrStdout(), "Key", "Type", "Detail")
			count := 0
			err := a.db.View(func(txn *badger.Txn) error {
				it := txn.NewIterator(badger.DefaultIteratorOptions)
				defer it.Close()

				prefixBytes := []byte(prefix)
				for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes) && count < limit; it.Next() {
					item := it.Item()
					key := string(item.Key())
					// Sequence leases are internal to badger
					if strings.HasPrefix(key, "seq:") {
						continue
					}
					err := item.Value(func(v []byte) error {
						kind, detail := repositories.Describe(key, v)
						table.Append([]string{key, kind, detail})
						return nil
					})
					if err != nil {
						return err
					}
					count++
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("inspect failed: %w", err)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "msg:", "key prefix to scan")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of records")
	return cmd
}
