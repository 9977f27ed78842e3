// Package export writes grouping results for spreadsheets.
package export

import (
	"encoding/csv"
	"io"

	"huddle/internal/domain"
)

const DefaultFileName = "HR_Grouping_Results.csv"

// DefaultHeader is the header row written when none is configured.
var DefaultHeader = []string{"GroupName", "MemberName"}

// WriteCSV writes one row per (group, member) pair with the group name repeated.
func WriteCSV(w io.Writer, groups []domain.Group, header []string) error {
	if len(header) != 2 {
		header = DefaultHeader
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, g := range groups {
		for _, m := range g.Members {
			if err := cw.Write([]string{g.Name, m.Name}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
