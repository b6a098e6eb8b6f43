package device

import (
	"context"
	"errors"
	"testing"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewSQLiteRepository(setupTestDB(t)))
}

func TestRegistry_PutGet(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	info := testInfo("P1")
	if err := reg.Put(ctx, info); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok := reg.Get("P1")
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if got.CloudID != info.CloudID {
		t.Errorf("CloudID = %q, want %q", got.CloudID, info.CloudID)
	}

	// Mutating the returned copy must not leak into the cache.
	got.Characteristics[0].Topic = "changed"
	again, _ := reg.Get("P1")
	if again.Characteristics[0].Topic == "changed" {
		t.Error("Get() returned a shared slice")
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for _, id := range []string{"P2", "P1"} {
		if err := repo.Save(ctx, testInfo(id)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if err := repo.SaveCertificates(ctx, "P1", CertificatePaths{CA: "ca", Cert: "cert", Key: "key"}); err != nil {
		t.Fatalf("SaveCertificates() error = %v", err)
	}
	if err := repo.SetThingType(ctx, "thermo", "tt-1"); err != nil {
		t.Fatalf("SetThingType() error = %v", err)
	}

	reg := NewRegistry(repo)
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	list := reg.List()
	if len(list) != 2 || list[0].PeripheralID != "P1" || list[1].PeripheralID != "P2" {
		t.Errorf("List() = %+v", list)
	}
	if p, ok := reg.Certificates("P1"); !ok || p.Key != "key" {
		t.Errorf("Certificates(P1) = %+v, %v", p, ok)
	}
	if _, ok := reg.Certificates("P2"); ok {
		t.Error("Certificates(P2) ok = true, want false")
	}
	if id, ok := reg.ThingType("thermo"); !ok || id != "tt-1" {
		t.Errorf("ThingType() = %q, %v", id, ok)
	}
}

func TestRegistry_Delete(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.Put(ctx, testInfo("P1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := reg.Delete(ctx, "P1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := reg.Get("P1"); ok {
		t.Error("Get() after Delete ok = true")
	}
	if err := reg.Delete(ctx, "P1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_PutInvalidLeavesCache(t *testing.T) {
	reg := setupTestRegistry(t)

	err := reg.Put(context.Background(), Info{PeripheralID: "P1", Family: "bogus"})
	if !errors.Is(err, ErrInvalidFamily) {
		t.Fatalf("Put() error = %v, want ErrInvalidFamily", err)
	}
	if _, ok := reg.Get("P1"); ok {
		t.Error("invalid info was cached")
	}
}

func TestRegistry_Reset(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	if err := reg.Put(ctx, testInfo("P1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := reg.SetMessageType(ctx, "2A19", "mt"); err != nil {
		t.Fatalf("SetMessageType() error = %v", err)
	}
	if err := reg.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(reg.List()) != 0 {
		t.Error("List() not empty after Reset")
	}
	if _, ok := reg.MessageType("2A19"); ok {
		t.Error("MessageType() survived Reset")
	}
}
