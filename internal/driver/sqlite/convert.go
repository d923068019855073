package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/roach88/driverbench/internal/driver"
)

// collectRows drains a result cursor into the tagged result-set shape.
//
// SQLite types dynamically per value, so the column tag comes from the
// declared type when one exists and falls back to text.
func collectRows(rows *sql.Rows) (*driver.ResultSet, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	tags := make([]driver.ColumnType, len(colTypes))
	for i, ct := range colTypes {
		tags[i] = columnTag(ct.DatabaseTypeName())
	}

	rs := &driver.ResultSet{
		ColumnNames: names,
		ColumnTypes: tags,
		Rows:        [][]any{},
	}

	for rows.Next() {
		scan := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(names))
		for i, v := range scan {
			row[i] = normalizeValue(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

// columnTag maps a declared SQLite type to the closed column-type set.
func columnTag(declared string) driver.ColumnType {
	d := strings.ToUpper(declared)
	switch {
	case d == "":
		return driver.ColumnTypeUnknown
	case strings.Contains(d, "BIGINT"):
		return driver.ColumnTypeInt64
	case strings.Contains(d, "INT"):
		return driver.ColumnTypeInt32
	case strings.Contains(d, "REAL"), strings.Contains(d, "DOUB"), strings.Contains(d, "FLOA"):
		return driver.ColumnTypeDouble
	case strings.Contains(d, "DECIMAL"), strings.Contains(d, "NUMERIC"):
		return driver.ColumnTypeNumeric
	case strings.Contains(d, "BOOL"):
		return driver.ColumnTypeBool
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return driver.ColumnTypeDateTime
	case strings.Contains(d, "BLOB"):
		return driver.ColumnTypeBytes
	case strings.Contains(d, "JSON"):
		return driver.ColumnTypeJSON
	default:
		return driver.ColumnTypeText
	}
}

// normalizeValue converts database/sql scan values to JSON-friendly ones.
// Byte slices become strings because sqlite3 hands TEXT back as []byte.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
