package service

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stretchr/testify/require"
)

func TestWriteResultsCSV(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, wib)
	end := start.Add(75 * time.Minute)

	rows := []model.ExamResult{
		{
			SessionID: uuid.New(), Name: "Doe, Jane", RollNumber: "10A001", Class: "10", Section: "A",
			StartTime: start, EndTime: &end, CodingScore: 80, MCQScore: 70, TotalScore: 75, ExitAttempts: 2,
		},
		{
			SessionID: uuid.New(), Name: "Sam", RollNumber: "10A002", Class: "10", Section: "A",
			StartTime: start,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResultsCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, ResultColumns, records[0])
	require.Equal(t, []string{
		"Doe, Jane", "10A001", "10", "A",
		"2026-03-02T02:00:00Z", "2026-03-02T03:15:00Z",
		"80", "70", "75", "2",
	}, records[1])
	require.Equal(t, "", records[2][5])
	require.Equal(t, "0", records[2][8])
}

func TestWriteResultsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResultsCSV(&buf, nil))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestExportFilename(t *testing.T) {
	at := time.Date(2026, 3, 2, 14, 5, 9, 0, time.UTC)
	require.Equal(t, "results_20260302_140509.csv", ExportFilename("", "", at))
	require.Equal(t, "results_10_20260302_140509.csv", ExportFilename("10", "", at))
	require.Equal(t, "results_10_B_20260302_140509.csv", ExportFilename("10", "B", at))
}
