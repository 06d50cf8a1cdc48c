package services

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"breadcrumbd/internal/database"
	"breadcrumbd/internal/events"
	"breadcrumbd/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("initialize schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T) (*BreadcrumbService, *events.Bus) {
	t.Helper()
	bus := events.NewBus(100)
	return NewBreadcrumbService(newTestDB(t), bus), bus
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "agent-1", "owner-1", &models.BreadcrumbDraft{
		Title:      "deploy plan",
		Tags:       []string{"deploy", "prod"},
		SchemaName: "plan.v1",
		Context:    map[string]any{"step": "review"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if bc.Version != 1 {
		t.Errorf("new breadcrumb version = %d, want 1", bc.Version)
	}
	if bc.ID == "" {
		t.Error("expected generated ID")
	}

	got, err := svc.Get(ctx, bc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "deploy plan" || got.SchemaName != "plan.v1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Context["step"] != "review" {
		t.Errorf("context round trip: %v", got.Context)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v", got.Tags)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		draft *models.BreadcrumbDraft
	}{
		{"nil draft", nil},
		{"empty title", &models.BreadcrumbDraft{Title: "   "}},
		{"bad visibility", &models.BreadcrumbDraft{Title: "x", Visibility: "everyone"}},
		{"bad sensitivity", &models.BreadcrumbDraft{Title: "x", Sensitivity: "topsecret"}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, "a", "o", tc.draft); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}
}

func TestGetUnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateVersionMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{Title: "v1"})
	if err != nil {
		t.Fatal(err)
	}

	title := "v2"
	if _, err := svc.Update(ctx, bc.ID, 1, &models.BreadcrumbPatch{Title: &title}, "a"); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Stale expected version must be rejected without mutating.
	title3 := "v3"
	_, err = svc.Update(ctx, bc.ID, 1, &models.BreadcrumbPatch{Title: &title3}, "a")
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	got, err := svc.Get(ctx, bc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.Title != "v2" {
		t.Errorf("state after rejected update: v%d %q", got.Version, got.Title)
	}
}

func TestConcurrentUpdateSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{Title: "contested"})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := "winner"
			_, err := svc.Update(ctx, bc.ID, 1, &models.BreadcrumbPatch{Title: &title}, "a")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Errorf("wins = %d, conflicts = %d, want 1 and %d", wins, conflicts, writers-1)
	}

	got, _ := svc.Get(ctx, bc.ID)
	if got.Version != 2 {
		t.Errorf("version = %d, want 2 (exactly one committed mutation)", got.Version)
	}
}

func TestContextShallowReplaceAndDeepMerge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{
		Title: "ctx",
		Context: map[string]any{
			"keep":   "old",
			"nested": map[string]any{"a": 1.0, "b": 2.0},
			"items":  []any{"x", "y"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Deep merge: nested keys combine, arrays replaced wholesale.
	updated, err := svc.Update(ctx, bc.ID, bc.Version, &models.BreadcrumbPatch{
		Context: map[string]any{
			"nested": map[string]any{"b": 9.0, "c": 3.0},
			"items":  []any{"z"},
		},
		MergeContext: true,
	}, "a")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Context["keep"] != "old" {
		t.Errorf("merge dropped untouched key: %v", updated.Context)
	}
	nested := updated.Context["nested"].(map[string]any)
	if nested["a"] != 1.0 || nested["b"] != 9.0 || nested["c"] != 3.0 {
		t.Errorf("deep merge result: %v", nested)
	}
	items := updated.Context["items"].([]any)
	if len(items) != 1 || items[0] != "z" {
		t.Errorf("arrays should replace wholesale: %v", items)
	}

	// Plain patch replaces named top-level keys; untouched keys survive
	// and replaced values are not recursed into.
	replaced, err := svc.Update(ctx, bc.ID, updated.Version, &models.BreadcrumbPatch{
		Context: map[string]any{"nested": map[string]any{"only": "this"}},
	}, "a")
	if err != nil {
		t.Fatal(err)
	}
	if replaced.Context["keep"] != "old" {
		t.Errorf("shallow patch dropped untouched key: %v", replaced.Context)
	}
	nested = replaced.Context["nested"].(map[string]any)
	if len(nested) != 1 || nested["only"] != "this" {
		t.Errorf("shallow patch should replace the key wholesale: %v", nested)
	}
}

func TestHistoryTrail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{
		Title:   "h",
		Context: map[string]any{"n": 0.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		_, err := svc.Update(ctx, bc.ID, i, &models.BreadcrumbPatch{
			Context: map[string]any{"n": float64(i)},
		}, "a")
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := svc.History(ctx, bc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Version != i+1 {
			t.Errorf("entry %d version = %d", i, e.Version)
		}
		if e.Context["n"] != float64(i) {
			t.Errorf("entry %d context = %v", i, e.Context)
		}
	}
}

func TestAddRemoveTags(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{Title: "t", Tags: []string{"one"}})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.AddTags(ctx, bc.ID, 0, []string{"two", "one"}, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Tags) != 2 {
		t.Errorf("tags after add = %v (duplicates must collapse)", updated.Tags)
	}

	updated, err = svc.RemoveTags(ctx, bc.ID, 0, []string{"one"}, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "two" {
		t.Errorf("tags after remove = %v", updated.Tags)
	}
	if updated.Version != 3 {
		t.Errorf("version = %d, want 3 (one bump per tag mutation)", updated.Version)
	}
}

func TestTagInsertionOrderPreserved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{
		Title: "t",
		Tags:  []string{"zebra", "alpha", " zebra ", "middle"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"zebra", "alpha", "middle"}
	if !reflect.DeepEqual(bc.Tags, want) {
		t.Errorf("tags = %v, want %v (insertion order, duplicates collapsed)", bc.Tags, want)
	}

	updated, err := svc.AddTags(ctx, bc.ID, 0, []string{"beta"}, "a")
	if err != nil {
		t.Fatal(err)
	}
	want = []string{"zebra", "alpha", "middle", "beta"}
	if !reflect.DeepEqual(updated.Tags, want) {
		t.Errorf("tags after add = %v, want %v", updated.Tags, want)
	}
}

func TestSearchSelectorAndOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	mk := func(title, schema string, tags []string, state string) string {
		bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{
			Title:      title,
			SchemaName: schema,
			Tags:       tags,
			Context:    map[string]any{"state": state},
		})
		if err != nil {
			t.Fatal(err)
		}
		return bc.ID
	}
	first := mk("first", "task.v1", []string{"build"}, "open")
	mk("second", "task.v1", []string{"build"}, "done")
	third := mk("third", "task.v1", []string{"build", "urgent"}, "open")
	mk("other", "note.v1", []string{"build"}, "open")

	got, err := svc.Search(ctx, models.Selector{
		AllTags:    []string{"build"},
		SchemaName: "task.v1",
		ContextMatch: []models.ContextClause{
			{Path: "state", Op: "eq", Value: "open"},
		},
	}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("matches = %d, want 2", len(got))
	}
	if got[0].ID != first || got[1].ID != third {
		t.Errorf("order = [%s %s], want creation order [%s %s]", got[0].ID, got[1].ID, first, third)
	}

	// Same query twice is a pure read.
	again, err := svc.Search(ctx, models.Selector{AllTags: []string{"build"}, SchemaName: "task.v1"}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 3 {
		t.Errorf("repeat search matches = %d, want 3", len(again))
	}
}

func TestSearchRejectsBadSelector(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Search(context.Background(), models.Selector{
		ContextMatch: []models.ContextClause{{Path: "x", Op: "matches", Value: 1}},
	}, 0, 0)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestPurgeExpiredEmitsDeleted(t *testing.T) {
	svc, bus := newTestService(t)
	ctx := context.Background()

	sub := bus.Subscribe("conn-1", "agent-s", models.Selector{AnyTags: []string{"ephemeral"}}, false)
	defer bus.Unsubscribe("conn-1")

	past := time.Now().UTC().Add(-time.Minute)
	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{
		Title: "short lived",
		Tags:  []string{"ephemeral"},
		TTL:   &past,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-sub.Events() // created

	purged, err := svc.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != models.EventDeleted || evt.BreadcrumbID != bc.ID {
			t.Errorf("event = %+v, want deleted for %s", evt, bc.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no deleted event after purge")
	}

	if _, err := svc.Get(ctx, bc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after purge: %v, want ErrNotFound", err)
	}
}

func TestExpiredHiddenBeforePurge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{Title: "gone", TTL: &past})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, bc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record visible through Get: %v", err)
	}
	got, err := svc.Search(ctx, models.Selector{}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expired record visible through Search: %d results", len(got))
	}
}

func TestDeleteVersionConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bc, err := svc.Create(ctx, "a", "o", &models.BreadcrumbDraft{Title: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, bc.ID, 99, "a"); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("err = %v, want ErrVersionConflict", err)
	}
	if err := svc.Delete(ctx, bc.ID, 1, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(ctx, bc.ID, 0, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}
