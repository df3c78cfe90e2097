// Package export writes consolidated golden records to XLSX workbooks for
// downstream catalog consumers.
package export

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/catalog-cli/internal/store"
)

// Options configures the catalog export.
type Options struct {
	Path            string // destination .xlsx path
	SheetName       string // default "Catalog"
	PublishableOnly bool   // only records that passed the publish gate and are unpublished
}

// fixedHeaders precede the attribute columns in every export.
var fixedHeaders = []string{"SKU", "Brand", "Ready", "Published At", "SEO Title", "Tags"}

// Exporter serializes golden records into spreadsheet form.
type Exporter struct {
	store store.Store
}

func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// WriteCatalog exports golden records to an XLSX workbook and returns the
// number of data rows written. Attribute columns are the union of all
// attribute names across exported records, in sorted order, after the
// fixed columns.
func (e *Exporter) WriteCatalog(ctx context.Context, opts Options) (int, error) {
	if opts.Path == "" {
		return 0, eris.New("export: destination path is empty")
	}

	records, err := e.store.ListGoldenRecords(ctx, opts.PublishableOnly)
	if err != nil {
		return 0, eris.Wrap(err, "export: list golden records")
	}

	names := map[string]struct{}{}
	for _, gr := range records {
		for name := range gr.Attributes {
			names[name] = struct{}{}
		}
	}
	attrCols := make([]string, 0, len(names))
	for name := range names {
		attrCols = append(attrCols, name)
	}
	sort.Strings(attrCols)

	f := xlsx.NewFile()
	sheetName := opts.SheetName
	if sheetName == "" {
		sheetName = "Catalog"
	}
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return 0, eris.Wrapf(err, "export: add sheet %q", sheetName)
	}

	header := sheet.AddRow()
	for _, h := range append(append([]string{}, fixedHeaders...), attrCols...) {
		header.AddCell().SetString(h)
	}

	for _, gr := range records {
		if ctx.Err() != nil {
			return 0, eris.Wrap(ctx.Err(), "export: context cancelled")
		}

		row := sheet.AddRow()
		row.AddCell().SetString(gr.SKU)
		row.AddCell().SetString(gr.Brand)
		row.AddCell().SetString(strconv.FormatBool(gr.ReadyForPublish))
		row.AddCell().SetString(formatPublished(gr.PublishedAt))

		var title, tags string
		if gr.Enrichment != nil {
			title = gr.Enrichment.SEOTitle
			tags = strings.Join(gr.Enrichment.Tags, ", ")
		}
		row.AddCell().SetString(title)
		row.AddCell().SetString(tags)

		for _, name := range attrCols {
			row.AddCell().SetString(gr.Attributes[name].Value)
		}
	}

	if err := f.Save(opts.Path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", opts.Path)
	}
	return len(records), nil
}

func formatPublished(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
