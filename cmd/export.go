package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/thriftstack/listing-cli/internal/model"
	"github.com/thriftstack/listing-cli/internal/store"
)

var (
	exportOut    string
	exportStatus string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export generated listings to a bulk-upload spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		items, err := st.ListItems(ctx, store.ItemFilter{
			Status: model.ItemStatus(exportStatus),
		})
		if err != nil {
			return eris.Wrap(err, "export: list items")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No items to export.")
			return nil
		}

		if err := writeListingXLSX(exportOut, items); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Exported %d item(s) to %s\n", len(items), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "listings.xlsx", "output file path")
	exportCmd.Flags().StringVar(&exportStatus, "status", string(model.ItemStatusGenerated), "item status to export")
	rootCmd.AddCommand(exportCmd)
}

var exportColumns = []string{
	"SKU", "Title", "Description", "Brand", "Material", "Condition",
	"Flaws", "Era", "Department", "Garment Type", "Size", "Label Size",
	"Style", "Tags", "Price",
}

// writeListingXLSX writes one row per item in bulk-upload column order.
func writeListingXLSX(path string, items []model.WorkItem) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Listings")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range exportColumns {
		header.AddCell().SetString(col)
	}

	for _, item := range items {
		row := sheet.AddRow()
		row.AddCell().SetString(item.SKU)
		row.AddCell().SetString(item.Title)
		row.AddCell().SetString(item.Description)
		row.AddCell().SetString(item.Brand)
		row.AddCell().SetString(item.Material)
		row.AddCell().SetString(item.Condition)
		row.AddCell().SetString(item.Flaws)
		row.AddCell().SetString(item.Era)
		row.AddCell().SetString(item.Department)
		row.AddCell().SetString(item.GarmentType)
		row.AddCell().SetString(item.Size)
		row.AddCell().SetString(item.LabelSize)
		row.AddCell().SetString(item.Style)
		row.AddCell().SetString(strings.Join(item.Tags, ", "))
		row.AddCell().SetFloat(item.Price)
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}
