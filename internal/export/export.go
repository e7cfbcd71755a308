// Package export projects the event tree into a flat CSV table.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Shivanand-hulikatti/teamsignups/internal/fileutil"
	"github.com/Shivanand-hulikatti/teamsignups/internal/model"
)

// Header is the fixed column order of every exported row.
var Header = []string{
	"event_id",
	"event_title",
	"event_date",
	"slot_id",
	"slot_name",
	"slot_capacity",
	"claim_id",
	"public_name",
	"first_name",
	"last_name",
	"email",
	"phone",
	"notes",
}

// ErrBadHeader is returned by ParseCSV when the first record is not Header.
var ErrBadHeader = errors.New("export: unexpected csv header")

// ToTable returns one row per (event, slot, claim). A slot with no claims
// still yields one row with empty claim cells so its capacity shows up.
func ToTable(events []model.Event) [][]string {
	var rows [][]string
	for _, e := range events {
		for _, s := range e.Slots {
			base := []string{e.ID, e.Title, e.Date, s.ID, s.Name, strconv.Itoa(s.Count)}
			if len(s.ClaimedBy) == 0 {
				rows = append(rows, append(base, "", "", "", "", "", "", ""))
				continue
			}
			for _, c := range s.ClaimedBy {
				row := make([]string, 0, len(Header))
				row = append(row, base...)
				row = append(row, c.ID, c.PublicName, c.FirstName, c.LastName, c.Email, c.Phone, c.Notes)
				rows = append(rows, row)
			}
		}
	}
	return rows
}

// WriteCSV writes Header followed by ToTable(events).
func WriteCSV(w io.Writer, events []model.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(ToTable(events)); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// ParseCSV reads a document produced by WriteCSV and returns its rows
// without the header.
func ParseCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrBadHeader
	}
	for i, h := range Header {
		if records[0][i] != h {
			return nil, ErrBadHeader
		}
	}
	return records[1:], nil
}

// Mirror keeps a derived CSV copy of the snapshot on disk.
type Mirror struct {
	path string
}

// NewMirror returns a Mirror writing to path.
func NewMirror(path string) *Mirror {
	return &Mirror{path: path}
}

// Path returns the mirror file location.
func (m *Mirror) Path() string { return m.path }

// Write regenerates the mirror file. The file is replaced with a rename so
// readers never see a half-written table.
func (m *Mirror) Write(events []model.Event) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, events); err != nil {
		return err
	}
	return fileutil.WriteAtomic(m.path, buf.Bytes(), 0o644)
}
