package services

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
)

func TestImportCSV(t *testing.T) {
	f := newFixture(t)
	importer := NewImportService(f.lifecycle)

	csvData := strings.Join([]string{
		"title,description,category,difficulty,reward,requirements,deliverables",
		"Label 100 images,Draw boxes,data,easy,0.50,steady hand,zip of labels",
		",missing title,data,easy,0.50,,",
		"Bad difficulty,desc,data,extreme,0.50,,",
		"Bad reward,desc,data,medium,not-a-number,,",
		"Negative reward,desc,data,medium,-1,,",
		"Translate doc,EN to FR,writing,hard,2.00,,",
	}, "\n")

	result, err := importer.ImportCSV(context.Background(), "requester-1", "requester-wallet", strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}

	if len(result.Created) != 2 {
		t.Fatalf("created %d tasks, want 2", len(result.Created))
	}
	if len(result.Errors) != 4 {
		t.Fatalf("collected %d row errors, want 4: %+v", len(result.Errors), result.Errors)
	}
	wantRows := []int{2, 3, 4, 5}
	for i, re := range result.Errors {
		if re.RowIndex != wantRows[i] {
			t.Fatalf("error %d at row %d, want row %d", i, re.RowIndex, wantRows[i])
		}
		if re.Error == "" {
			t.Fatalf("row %d error is empty", re.RowIndex)
		}
	}

	first := result.Created[0]
	if first.Title != "Label 100 images" || first.WorkersNeeded != 1 {
		t.Fatalf("first task %+v, want single-slot labelling task", first)
	}
	if !strings.Contains(first.Description, "Requirements: steady hand") ||
		!strings.Contains(first.Description, "Deliverables: zip of labels") {
		t.Fatalf("optional columns dropped from description: %q", first.Description)
	}

	tasks, err := f.store.ListTasks(context.Background(), core.TaskFilter{Status: core.TaskOpen})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("store holds %d open tasks, want 2", len(tasks))
	}
}

func TestImportCSVMissingColumn(t *testing.T) {
	f := newFixture(t)
	importer := NewImportService(f.lifecycle)

	csvData := "title,description,category\nOnly three columns,desc,data\n"
	if _, err := importer.ImportCSV(context.Background(), "requester-1", "requester-wallet", strings.NewReader(csvData)); err == nil {
		t.Fatalf("ImportCSV accepted a header missing required columns")
	}
}

func TestImportCSVCollectsEscrowFailures(t *testing.T) {
	f := newFixture(t)
	f.ledger.balances["requester-wallet"] = decimal.Zero
	importer := NewImportService(f.lifecycle)

	csvData := "title,description,category,difficulty,reward\nUnfunded,desc,data,easy,0.50\n"
	result, err := importer.ImportCSV(context.Background(), "requester-1", "requester-wallet", strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if len(result.Created) != 0 || len(result.Errors) != 1 {
		t.Fatalf("result %+v, want one collected escrow failure", result)
	}
}
