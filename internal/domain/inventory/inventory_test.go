package inventory

import (
	"errors"
	"testing"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/identity"
)

func TestSystemNaturalKeyIgnoresVendorCase(t *testing.T) {
	a := System{ID: 1, VendorType: "Enphase", VendorSiteID: "4711"}
	b := System{ID: 99, VendorType: "enphase", VendorSiteID: "4711"}
	if a.NaturalKey() != b.NaturalKey() {
		t.Errorf("keys differ: %v vs %v", a.NaturalKey(), b.NaturalKey())
	}
}

func TestMatchSystems(t *testing.T) {
	src := []System{{ID: 1, VendorType: "enphase", VendorSiteID: "A"}, {ID: 2, VendorType: "fronius", VendorSiteID: "B"}}
	tgt := []System{{ID: 7, VendorType: "enphase", VendorSiteID: "A"}}

	res := identity.MatchInventories[System, SystemKey](src, tgt)
	if len(res.Matched) != 1 || res.Matched[0].Target.ID != 7 {
		t.Fatalf("matched = %+v", res.Matched)
	}
	if len(res.Missing) != 1 || res.Missing[0].ID != 2 {
		t.Fatalf("missing = %+v", res.Missing)
	}
}

func TestSystemValidate(t *testing.T) {
	if err := (System{VendorType: "x", VendorSiteID: "1"}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing owner: err = %v", err)
	}
	if err := (System{VendorType: "x", VendorSiteID: "1", OwnerIdentity: "dev|a"}).Validate(); err != nil {
		t.Errorf("valid system: %v", err)
	}
}

func TestSystemForTarget(t *testing.T) {
	s := System{ID: 1, VendorType: "x", VendorSiteID: "1", OwnerIdentity: "prod|raw", Name: "Roof"}
	got := s.ForTarget(42, "dev|mapped")
	if got.ID != 42 || got.OwnerIdentity != "dev|mapped" || got.Name != "Roof" {
		t.Errorf("ForTarget = %+v", got)
	}
	if s.OwnerIdentity != "prod|raw" {
		t.Error("ForTarget must not modify the receiver")
	}
	if !s.NeedsRefresh(got) {
		t.Error("owner change must require refresh")
	}
}

func TestPointKeys(t *testing.T) {
	p := Point{SystemID: 3, PointID: 9, OriginID: "inv-1", OriginSubID: "ac"}
	moved := p.InSystem(30)
	if moved.NaturalKey() == p.NaturalKey() {
		t.Error("natural key must include the system")
	}
	if p.Key() != (identity.SubKey{Parent: 3, Local: 9}) {
		t.Errorf("Key() = %v", p.Key())
	}
	if p.NeedsRefresh(moved) {
		t.Error("re-parenting alone is not a refresh")
	}
}
