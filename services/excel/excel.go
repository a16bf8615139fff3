// Package excel exports the reports as xlsx workbooks and reads the archive spreadsheets.
package excel

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/enrolla/core/archive"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// builtin number formats
const (
	fmtAmount = 4  // #,##0.00
	fmtDate   = 14 // m/d/yy
	fmtTime   = 22 // m/d/yy h:mm
)

type colKind int

const (
	colText colKind = iota
	colInt
	colAmount
	colDate
	colTime
)

type column struct {
	title string
	kind  colKind
	width float64
}

type (
	// RegistrationRow is a registration with the names it refers to.
	RegistrationRow struct {
		registration.Registration
		StudentName  string
		StudentEmail string
		CourseCode   string
		CourseTitle  string
		CompanyName  string
	}

	DeadlineRow struct {
		payment.Deadline
		StudentName string
		CourseTitle string
	}
)

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func colName(col int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return name
}

// value converts v to what excelize stores as a typed cell.
func value(v interface{}) interface{} {
	switch x := v.(type) {
	case decimal.Decimal:
		f, _ := x.Float64()
		return f
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		f, _ := x.Decimal.Float64()
		return f
	case null.Time:
		if !x.Valid {
			return nil
		}
		return x.Time
	case null.String:
		if !x.Valid {
			return nil
		}
		return x.String
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x
	}
	return v
}

// writeSheet writes a single-sheet workbook with a bold header row and an auto-filter.
func writeSheet(w io.Writer, name string, cols []column, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return errors.Wrap(err, "naming sheet")
	}

	styles := make(map[colKind]int)
	for kind, numFmt := range map[colKind]int{colAmount: fmtAmount, colDate: fmtDate, colTime: fmtTime} {
		id, err := f.NewStyle(&excelize.Style{NumFmt: numFmt})
		if err != nil {
			return errors.Wrap(err, "creating style")
		}
		styles[kind] = id
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0E0E0"}},
	})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}

	for i, col := range cols {
		c := i + 1
		if err = f.SetCellValue(name, cellName(c, 1), col.title); err != nil {
			return err
		}
		width := col.width
		if width == 0 {
			width = 16
		}
		if err = f.SetColWidth(name, colName(c), colName(c), width); err != nil {
			return err
		}
	}
	if err = f.SetCellStyle(name, cellName(1, 1), cellName(len(cols), 1), header); err != nil {
		return err
	}

	for r, row := range rows {
		for i, v := range row {
			cell := cellName(i+1, r+2)
			if err = f.SetCellValue(name, cell, value(v)); err != nil {
				return errors.Wrapf(err, "writing %s", cell)
			}
			if style, ok := styles[cols[i].kind]; ok {
				if err = f.SetCellStyle(name, cell, cell, style); err != nil {
					return err
				}
			}
		}
	}

	lastRow := len(rows) + 1
	if err = f.AutoFilter(name, cellName(1, 1)+":"+cellName(len(cols), lastRow), nil); err != nil {
		return errors.Wrap(err, "setting auto filter")
	}
	if err = f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return errors.Wrap(err, "freezing header")
	}
	return errors.Wrap(f.Write(w), "writing workbook")
}

func ExportRegistrations(w io.Writer, regs []RegistrationRow) error {
	cols := []column{
		{title: "Student", width: 24},
		{title: "Email", width: 28},
		{title: "Course code"},
		{title: "Course", width: 28},
		{title: "Status"},
		{title: "Partner company", width: 24},
		{title: "Referral code"},
		{title: "Total", kind: colAmount},
		{title: "Discount", kind: colAmount},
		{title: "Net", kind: colAmount},
		{title: "Approved at", kind: colTime},
		{title: "Created at", kind: colTime},
	}
	rows := make([][]interface{}, 0, len(regs))
	for _, r := range regs {
		rows = append(rows, []interface{}{
			r.StudentName, r.StudentEmail, r.CourseCode, r.CourseTitle, r.Status, r.CompanyName, r.ReferralCode,
			r.TotalAmount, r.DiscountAmount, r.NetAmount(), r.ApprovedAt, r.CreatedAt,
		})
	}
	return writeSheet(w, "Registrations", cols, rows)
}

func ExportDeadlines(w io.Writer, deadlines []DeadlineRow) error {
	cols := []column{
		{title: "Student", width: 24},
		{title: "Course", width: 28},
		{title: "Installment", kind: colInt},
		{title: "Due on", kind: colDate},
		{title: "Amount", kind: colAmount},
		{title: "Paid", kind: colAmount},
		{title: "Outstanding", kind: colAmount},
		{title: "Paid at", kind: colTime},
	}
	rows := make([][]interface{}, 0, len(deadlines))
	for _, d := range deadlines {
		rows = append(rows, []interface{}{
			d.StudentName, d.CourseTitle, d.Installment, d.DueOn, d.Amount, d.PaidAmount, d.Outstanding(), d.PaidAt,
		})
	}
	return writeSheet(w, "Deadlines", cols, rows)
}

func ExportArchive(w io.Writer, records []archive.Record) error {
	cols := []column{
		{title: "Student name", width: 24},
		{title: "Email", width: 28},
		{title: "Phone"},
		{title: "Course title", width: 28},
		{title: "Year", kind: colInt},
		{title: "Amount paid", kind: colAmount},
		{title: "Status"},
		{title: "Notes", width: 40},
	}
	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, []interface{}{r.StudentName, r.Email, r.Phone, r.CourseTitle, r.Year, r.AmountPaid, r.Status, r.Notes})
	}
	return writeSheet(w, "Archive", cols, rows)
}

func ExportPartnerStats(w io.Writer, company partner.Company, stats partner.Stats) error {
	cols := []column{
		{title: "Course", width: 28},
		{title: "Registrations", kind: colInt},
		{title: "Gross amount", kind: colAmount},
		{title: "Paid amount", kind: colAmount},
		{title: "Commission", kind: colAmount},
	}
	rows := make([][]interface{}, 0, len(stats.Courses)+1)
	var total int
	for _, cs := range stats.Courses {
		rows = append(rows, []interface{}{cs.CourseTitle, cs.Registrations, cs.GrossAmount, cs.PaidAmount, cs.Commission})
		total += cs.Registrations
	}
	rows = append(rows, []interface{}{"Total " + company.Name, total, stats.GrossAmount, stats.PaidAmount, stats.Commission})
	return writeSheet(w, "Stats", cols, rows)
}

// ReadArchiveRows reads the first sheet; the first non-empty row holds the headers.
func ReadArchiveRows(r io.Reader) ([]archive.ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "opening workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []archive.ImportRow{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}

	var headers []string
	result := make([]archive.ImportRow, 0, len(rows))
	for i, row := range rows {
		if headers == nil {
			if strings.TrimSpace(strings.Join(row, "")) != "" {
				headers = row
			}
			continue
		}
		values := make(map[string]string, len(headers))
		for c, h := range headers {
			if h = strings.TrimSpace(h); h == "" {
				continue
			}
			if c < len(row) {
				values[h] = row[c]
			} else {
				values[h] = ""
			}
		}
		result = append(result, archive.ImportRow{Line: i + 1, Values: values})
	}
	return result, nil
}
