package services

import (
	"context"
	"errors"
	"testing"

	"breadcrumbd/internal/models"
)

func TestAgentRegisterAndAuthenticate(t *testing.T) {
	svc := NewAgentService(newTestDB(t))
	ctx := context.Background()

	agent, err := svc.Register(ctx, "worker-1", "owner-1", []string{models.RoleEmitter, models.RoleSubscriber}, "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !agent.HasRole(models.RoleEmitter) || agent.HasRole(models.RoleCurator) {
		t.Errorf("roles = %v", agent.Roles)
	}

	got, err := svc.Authenticate(ctx, "worker-1", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.OwnerID != "owner-1" {
		t.Errorf("owner = %q", got.OwnerID)
	}

	if _, err := svc.Authenticate(ctx, "worker-1", "wrong"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bad credential err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost", "s3cret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown agent err = %v, want ErrNotFound", err)
	}
}

func TestAgentRegisterValidation(t *testing.T) {
	svc := NewAgentService(newTestDB(t))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "o", nil, "s"); !errors.Is(err, ErrValidation) {
		t.Errorf("empty id err = %v", err)
	}
	if _, err := svc.Register(ctx, "a", "o", []string{"admin"}, "s"); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown role err = %v", err)
	}
	if _, err := svc.Register(ctx, "a", "o", nil, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty secret err = %v", err)
	}

	if _, err := svc.Register(ctx, "a", "o", nil, "s"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "a", "o", nil, "s"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate err = %v, want ErrDuplicate", err)
	}
}

func TestAgentSetRolesAndDelete(t *testing.T) {
	svc := NewAgentService(newTestDB(t))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a", "o", []string{models.RoleEmitter}, "s"); err != nil {
		t.Fatal(err)
	}
	updated, err := svc.SetRoles(ctx, "a", []string{models.RoleCurator})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.HasRole(models.RoleCurator) || updated.HasRole(models.RoleEmitter) {
		t.Errorf("roles after update = %v", updated.Roles)
	}

	if err := svc.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after delete = %v", err)
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	svc := NewSubscriptionService(newTestDB(t))
	ctx := context.Background()

	sel := models.Selector{
		AnyTags: []string{"deploy"},
		ContextMatch: []models.ContextClause{
			{Path: "env", Op: "eq", Value: "prod"},
		},
	}
	sub, err := svc.Create(ctx, "agent-1", sel)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.Get(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "agent-1" || len(got.Selector.ContextMatch) != 1 {
		t.Errorf("round trip = %+v", got)
	}
	if got.Selector.ContextMatch[0].Path != "env" {
		t.Errorf("selector clause = %+v", got.Selector.ContextMatch[0])
	}

	list, err := svc.ListByAgent(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list = %d entries", len(list))
	}

	// Another agent cannot delete it.
	if err := svc.Delete(ctx, "agent-2", sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-agent delete err = %v", err)
	}
	if err := svc.Delete(ctx, "agent-1", sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after delete = %v", err)
	}
}

func TestAgentSetSecret(t *testing.T) {
	svc := NewAgentService(newTestDB(t))
	ctx := context.Background()

	if _, err := svc.Register(ctx, "agent-1", "owner-1", []string{models.RoleEmitter}, "old-secret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.SetSecret(ctx, "agent-1", "new-secret"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "agent-1", "old-secret"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old secret err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Authenticate(ctx, "agent-1", "new-secret"); err != nil {
		t.Errorf("new secret err = %v", err)
	}

	if err := svc.SetSecret(ctx, "agent-1", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty secret err = %v, want ErrValidation", err)
	}
	if err := svc.SetSecret(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown agent err = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionUpdate(t *testing.T) {
	svc := NewSubscriptionService(newTestDB(t))
	ctx := context.Background()

	sub, err := svc.Create(ctx, "agent-1", models.Selector{AnyTags: []string{"deploy"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	next := models.Selector{SchemaName: "task.v1"}
	updated, err := svc.Update(ctx, "agent-1", sub.ID, next)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Selector.SchemaName != "task.v1" || len(updated.Selector.AnyTags) != 0 {
		t.Errorf("updated selector = %+v", updated.Selector)
	}

	// Another agent cannot update it.
	if _, err := svc.Update(ctx, "agent-2", sub.ID, next); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-agent update err = %v", err)
	}
	// Invalid selectors are rejected before touching the row.
	if _, err := svc.Update(ctx, "agent-1", sub.ID, models.Selector{
		ContextMatch: []models.ContextClause{{Path: "x", Op: "bogus", Value: 1}},
	}); !errors.Is(err, ErrValidation) {
		t.Errorf("bad selector err = %v", err)
	}
}

func TestSubscriptionRejectsBadSelector(t *testing.T) {
	svc := NewSubscriptionService(newTestDB(t))
	_, err := svc.Create(context.Background(), "a", models.Selector{
		ContextMatch: []models.ContextClause{{Path: "", Op: "eq", Value: 1}},
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestIdempotencyStore(t *testing.T) {
	store := NewIdempotencyStore()

	ok, _ := store.Reserve("agent-1", "key-1")
	if !ok {
		t.Fatal("first reserve should succeed")
	}
	store.Record("agent-1", "key-1", "bc-123")

	ok, prior := store.Reserve("agent-1", "key-1")
	if ok {
		t.Error("replayed key should be rejected")
	}
	if prior != "bc-123" {
		t.Errorf("prior = %q, want bc-123", prior)
	}

	// Keys are scoped per agent.
	if ok, _ := store.Reserve("agent-2", "key-1"); !ok {
		t.Error("same key from another agent should be independent")
	}
}

func TestIdempotencyReserveClaimsBeforeRecord(t *testing.T) {
	store := NewIdempotencyStore()

	// Two requests racing on the same key: the claim must land at
	// Reserve time, not at Record time.
	ok, _ := store.Reserve("agent-1", "key-1")
	if !ok {
		t.Fatal("first reserve should succeed")
	}
	if ok, _ := store.Reserve("agent-1", "key-1"); ok {
		t.Error("second reserve before Record should be rejected")
	}
	store.Record("agent-1", "key-1", "bc-1")
	if _, prior := store.Reserve("agent-1", "key-1"); prior != "bc-1" {
		t.Errorf("prior = %q, want bc-1", prior)
	}

	// A failed create releases the claim for a retry.
	store.Release("agent-1", "key-1")
	if ok, _ := store.Reserve("agent-1", "key-1"); !ok {
		t.Error("reserve after release should succeed")
	}
}
