package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
)

var requiredImportColumns = []string{"title", "description", "category", "difficulty", "reward"}

var validDifficulties = map[string]bool{"easy": true, "medium": true, "hard": true}

// RowError reports one failed import row. Row indexes are 1-based over data
// rows, excluding the header.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Error    string `json:"error"`
}

// ImportResult summarizes a bulk import. Failed rows never abort the rest.
type ImportResult struct {
	Created []core.Task `json:"created"`
	Errors  []RowError  `json:"errors"`
}

// ImportService creates tasks in bulk from CSV uploads. Each valid row becomes
// a single-worker task with escrow locked through the normal creation path.
type ImportService struct {
	lifecycle *LifecycleService
}

// NewImportService creates the bulk import service.
func NewImportService(lifecycle *LifecycleService) *ImportService {
	return &ImportService{lifecycle: lifecycle}
}

// validatedRow is one strictly parsed import row.
type validatedRow struct {
	title        string
	description  string
	category     string
	difficulty   string
	reward       decimal.Decimal
	requirements string
	deliverables string
}

// ImportCSV parses and imports tasks for the given requester. Per-row
// validation or creation failures are collected; the remaining rows proceed.
func (s *ImportService) ImportCSV(ctx context.Context, requesterID, requesterWallet string, r io.Reader) (ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return ImportResult{}, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredImportColumns {
		if _, ok := cols[name]; !ok {
			return ImportResult{}, fmt.Errorf("missing required column %q", name)
		}
	}

	result := ImportResult{}
	for rowIndex := 1; ; rowIndex++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Errors = append(result.Errors, RowError{RowIndex: rowIndex, Error: err.Error()})
			continue
		}

		row, err := validateRow(cols, record)
		if err != nil {
			result.Errors = append(result.Errors, RowError{RowIndex: rowIndex, Error: err.Error()})
			continue
		}

		task, err := s.lifecycle.CreateTask(ctx, CreateTaskRequest{
			RequesterID:      requesterID,
			RequesterWallet:  requesterWallet,
			Title:            row.title,
			Description:      row.buildDescription(),
			Category:         row.category,
			Difficulty:       row.difficulty,
			PaymentPerWorker: row.reward,
			WorkersNeeded:    1,
		})
		if err != nil {
			result.Errors = append(result.Errors, RowError{RowIndex: rowIndex, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, task)
	}
	return result, nil
}

func validateRow(cols map[string]int, record []string) (validatedRow, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	row := validatedRow{
		title:        field("title"),
		description:  field("description"),
		category:     field("category"),
		difficulty:   strings.ToLower(field("difficulty")),
		requirements: field("requirements"),
		deliverables: field("deliverables"),
	}
	if row.title == "" {
		return validatedRow{}, fmt.Errorf("title is required")
	}
	if !validDifficulties[row.difficulty] {
		return validatedRow{}, fmt.Errorf("difficulty must be one of easy, medium, hard")
	}

	reward, err := decimal.NewFromString(field("reward"))
	if err != nil {
		return validatedRow{}, fmt.Errorf("reward is not a number: %q", field("reward"))
	}
	if reward.IsNegative() {
		return validatedRow{}, fmt.Errorf("reward must be non-negative")
	}
	row.reward = reward

	if et := field("estimated_time"); et != "" {
		if n, err := strconv.Atoi(et); err != nil || n < 0 {
			return validatedRow{}, fmt.Errorf("estimated_time must be a non-negative integer")
		}
	}
	return row, nil
}

// buildDescription folds the optional columns into the task description so no
// validated input is dropped.
func (r validatedRow) buildDescription() string {
	var b strings.Builder
	b.WriteString(r.description)
	if r.requirements != "" {
		b.WriteString("\n\nRequirements: ")
		b.WriteString(r.requirements)
	}
	if r.deliverables != "" {
		b.WriteString("\n\nDeliverables: ")
		b.WriteString(r.deliverables)
	}
	return b.String()
}
