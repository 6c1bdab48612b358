package service

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/stemsi/codexam/internal/model"
)

// ResultColumns is the header row of the results export.
var ResultColumns = []string{
	"Name", "Roll Number", "Class", "Section", "Start Time", "End Time",
	"Coding Score", "MCQ Score", "Total Score", "Exit Attempts",
}

// WriteResultsCSV writes rows as CSV, header first. Times are RFC 3339 in UTC.
func WriteResultsCSV(w io.Writer, rows []model.ExamResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ResultColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		end := ""
		if r.EndTime != nil {
			end = r.EndTime.UTC().Format(time.RFC3339)
		}
		record := []string{
			r.Name,
			r.RollNumber,
			r.Class,
			r.Section,
			r.StartTime.UTC().Format(time.RFC3339),
			end,
			strconv.Itoa(r.CodingScore),
			strconv.Itoa(r.MCQScore),
			strconv.Itoa(r.TotalScore),
			strconv.Itoa(r.ExitAttempts),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename names an export file after its filter.
func ExportFilename(class, section string, at time.Time) string {
	name := "results"
	if class != "" {
		name += "_" + class
	}
	if section != "" {
		name += "_" + section
	}
	return name + "_" + at.UTC().Format("20060102_150405") + ".csv"
}
