// Package inventory defines the monitored entities copied by the metadata
// stages: systems (sites owned by an external identity) and their
// monitoring points.
package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/devsync/internal/domain"
	"github.com/Strob0t/devsync/internal/domain/identity"
)

// System is one monitored site. ID is store-assigned and differs between
// source and target; (VendorType, VendorSiteID) identifies it in both.
type System struct {
	ID            int64     `json:"id"`
	VendorType    string    `json:"vendor_type"`
	VendorSiteID  string    `json:"vendor_site_id"`
	Name          string    `json:"name"`
	OwnerIdentity string    `json:"-"`
	Timezone      string    `json:"timezone"`
	Status        string    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SystemKey is the natural key of a system.
type SystemKey struct {
	VendorType   string
	VendorSiteID string
}

func (k SystemKey) String() string { return k.VendorType + ":" + k.VendorSiteID }

// NaturalKey implements identity.Entity.
func (s System) NaturalKey() SystemKey {
	return SystemKey{VendorType: strings.ToLower(s.VendorType), VendorSiteID: s.VendorSiteID}
}

// Validate checks the fields required to create a system.
func (s System) Validate() error {
	if s.VendorType == "" || s.VendorSiteID == "" {
		return fmt.Errorf("%w: system needs vendor type and site id", domain.ErrValidation)
	}
	if s.OwnerIdentity == "" {
		return fmt.Errorf("%w: system %s has no owner", domain.ErrValidation, s.NaturalKey())
	}
	return nil
}

// ForTarget returns the system as it should exist in the target store:
// the target ID and the mapped owner replace the source values.
func (s System) ForTarget(targetID int64, owner string) System {
	s.ID = targetID
	s.OwnerIdentity = owner
	return s
}

// NeedsRefresh reports whether any mutable field of t differs from s.
func (s System) NeedsRefresh(t System) bool {
	return s.Name != t.Name || s.Timezone != t.Timezone || s.Status != t.Status || s.OwnerIdentity != t.OwnerIdentity
}

// Point is one monitoring point (meter, inverter channel). PointID is only
// unique within its system.
type Point struct {
	SystemID    int64  `json:"system_id"`
	PointID     int64  `json:"point_id"`
	OriginID    string `json:"origin_id"`
	OriginSubID string `json:"origin_sub_id"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	MetricType  string `json:"metric_type"`
}

// PointKey is the natural key of a point within a target system.
type PointKey struct {
	SystemID    int64
	OriginID    string
	OriginSubID string
}

// NaturalKey implements identity.Entity. It is only comparable across
// stores after SystemID has been translated.
func (p Point) NaturalKey() PointKey {
	return PointKey{SystemID: p.SystemID, OriginID: p.OriginID, OriginSubID: p.OriginSubID}
}

// Key returns the composite store key of the point.
func (p Point) Key() identity.SubKey {
	return identity.SubKey{Parent: p.SystemID, Local: p.PointID}
}

// InSystem returns a copy of p re-parented under systemID.
func (p Point) InSystem(systemID int64) Point {
	p.SystemID = systemID
	return p
}

// NeedsRefresh reports whether any mutable field of t differs from p.
func (p Point) NeedsRefresh(t Point) bool {
	return p.Name != t.Name || p.Unit != t.Unit || p.MetricType != t.MetricType
}
