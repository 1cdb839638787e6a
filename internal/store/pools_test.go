package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/refresher/internal/model"
)

func TestCreatePool_UnknownProduct(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CreatePool(context.Background(), "owner-a", "pool-1", "nope")
	if !model.IsNotFoundError(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestCreatePool_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedWidget(t, s, "owner-a")

	if _, err := s.CreatePool(ctx, "owner-a", "pool-1", "X"); err != nil {
		t.Fatal(err)
	}
	_, err := s.CreatePool(ctx, "owner-a", "pool-1", "Y")
	if !errors.Is(err, ErrPoolExists) {
		t.Errorf("err = %v, want ErrPoolExists", err)
	}
}

func TestReferencingPools_ScopedToOwner(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x, y, c1 := seedWidget(t, s, "owner-a")
	seedWidget(t, s, "owner-b") // shares the rows

	if _, err := s.CreatePool(ctx, "owner-a", "pool-2", "X"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreatePool(ctx, "owner-a", "pool-1", "Y"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		owner string
		typ   model.EntityType
		uuid  string
		want  []string
	}{
		{"owner-a", model.TypeProduct, x.UUID(), []string{"pool-2"}},
		{"owner-a", model.TypeProduct, y.UUID(), []string{"pool-1", "pool-2"}},
		{"owner-a", model.TypeContent, c1.UUID(), []string{"pool-2"}},
		{"owner-b", model.TypeProduct, x.UUID(), []string{}},
		{"owner-b", model.TypeContent, c1.UUID(), []string{}},
	}
	for _, tt := range tests {
		got, err := s.ReferencingPools(ctx, tt.owner, tt.typ, tt.uuid)
		if err != nil {
			t.Fatalf("ReferencingPools() failed: %v", err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s %s %s: pools = %v, want %v", tt.owner, tt.typ, tt.uuid, got, tt.want)
		}
	}
}

func TestDeletePool_ReleasesGuard(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x, _, _ := seedWidget(t, s, "owner-a")

	if _, err := s.CreatePool(ctx, "owner-a", "pool-1", "X"); err != nil {
		t.Fatal(err)
	}
	deleted, err := s.DeletePool(ctx, "pool-1")
	if err != nil || !deleted {
		t.Fatalf("DeletePool() = %v, %v", deleted, err)
	}

	referenced, err := s.IsReferencedByActivePool(ctx, "owner-a", model.TypeProduct, x.UUID())
	if err != nil {
		t.Fatal(err)
	}
	if referenced {
		t.Error("guard must be released after pool deletion")
	}

	deleted, err = s.DeletePool(ctx, "pool-1")
	if err != nil || deleted {
		t.Errorf("second DeletePool() = %v, %v; want false, nil", deleted, err)
	}
}

func TestListPools(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	x, _, _ := seedWidget(t, s, "owner-a")

	if _, err := s.CreatePool(ctx, "owner-a", "pool-1", "X"); err != nil {
		t.Fatal(err)
	}
	pools, err := s.ListPools(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	want := []Pool{{ID: "pool-1", Owner: "owner-a", ProductID: "X", ProductUUID: x.UUID()}}
	if !reflect.DeepEqual(pools, want) {
		t.Errorf("pools = %+v, want %+v", pools, want)
	}
}
