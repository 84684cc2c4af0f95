package failures_test

import (
	"context"
	"testing"
	"time"

	"tether/internal/failures"
	"tether/internal/testsupport"
)

func TestRecordAndListNewestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenFailures(t, cfg)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, component := range []string{"auth", "router", "auth"} {
		_, err := store.Record(ctx, failures.Report{
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Component:  component,
			Operation:  "op",
			Code:       "authentication",
			Reason:     "reason",
			PID:        100 + i,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := store.List(ctx, failures.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(all))
	}
	if all[0].PID != 102 {
		t.Fatalf("expected newest first, got pid %d", all[0].PID)
	}

	auth, err := store.List(ctx, failures.ListOptions{Component: "auth", Limit: 1})
	if err != nil {
		t.Fatalf("List auth: %v", err)
	}
	if len(auth) != 1 || auth[0].Component != "auth" {
		t.Fatalf("unexpected filtered result %+v", auth)
	}
}

func TestPruneRemovesOldReports(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenFailures(t, cfg)
	ctx := context.Background()

	if _, err := store.Record(ctx, failures.Report{OccurredAt: time.Now().AddDate(0, 0, -40), Component: "auth", Code: "x"}); err != nil {
		t.Fatalf("Record old: %v", err)
	}
	if _, err := store.Record(ctx, failures.Report{Component: "auth", Code: "x"}); err != nil {
		t.Fatalf("Record new: %v", err)
	}

	removed, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
	remaining, err := store.List(ctx, failures.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining, got %d", len(remaining))
	}
}

func TestReopenKeepsReports(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := failures.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Record(context.Background(), failures.Report{Component: "router", Operation: "DownloadFile", Code: "timeout"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	store.Close()

	reopened := testsupport.MustOpenFailures(t, cfg)
	reports, err := reopened.List(context.Background(), failures.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reports) != 1 || reports[0].Operation != "DownloadFile" {
		t.Fatalf("unexpected reports after reopen %+v", reports)
	}
}
