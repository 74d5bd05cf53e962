package qrlabel

import (
	"encoding/csv"
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var ErrNoPrintableSelected = errors.New("no printable labels selected")

// LabelRow is one sticker on a label sheet.
type LabelRow struct {
	Checked         bool
	Title           string
	InventoryNumber string
}

func printableCount(rows []LabelRow) int {
	cnt := 0
	for _, r := range rows {
		if r.Checked && r.InventoryNumber != "" {
			cnt++
		}
	}
	return cnt
}

// WriteSheet writes checked rows as CSV (title, inventory number, payload).
// Output is UTF-8 with a BOM so spreadsheet tools detect Cyrillic and
// Kazakh titles correctly.
func WriteSheet(w io.Writer, rows []LabelRow) error {
	if printableCount(rows) == 0 {
		return ErrNoPrintableSelected
	}

	tw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(tw)
	if err := cw.Write([]string{"title", "inventory_number", "qr_payload"}); err != nil {
		return err
	}
	for _, r := range rows {
		if !r.Checked || r.InventoryNumber == "" {
			continue
		}
		if err := cw.Write([]string{r.Title, r.InventoryNumber, Payload(r.InventoryNumber)}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return tw.Close()
}
