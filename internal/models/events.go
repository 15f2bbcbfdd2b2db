package models

import (
	"strconv"
	"strings"
)

// EventType is the MemberMouse push notification name.
type EventType string

const (
	EventMemberAdded          EventType = "mm_member_add"
	EventMemberLevelChanged   EventType = "mm_member_membership_change"
	EventMemberStatusChanged  EventType = "mm_member_status_change"
	EventMemberDeleted        EventType = "mm_member_delete"
	EventMemberAccountUpdated EventType = "mm_member_account_update"
	EventProductPurchased     EventType = "mm_product_purchase"
	EventBundleAdded          EventType = "mm_bundles_add"
	EventBundleStatusChanged  EventType = "mm_bundles_status_change"
)

// Status names sent by MemberMouse that drive tagging decisions.
const (
	StatusActive   = "Active"
	StatusCanceled = "Canceled"
)

// EventFields is the flat key/value payload of a lifecycle event.
type EventFields map[string]string

// Get returns the trimmed value for key, or "".
func (f EventFields) Get(key string) string {
	return strings.TrimSpace(f[key])
}

// Int returns the value for key parsed as a positive integer.
func (f EventFields) Int(key string) (int64, bool) {
	raw := f.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Identity is the subscriber identity carried by every event.
type Identity struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// MemberEvent is sent for member add, level change, status change and delete.
type MemberEvent struct {
	Identity
	MembershipLevelID int64  `json:"membership_level_id,omitempty"`
	HasLevel          bool   `json:"-"`
	StatusName        string `json:"status_name,omitempty"`
}

// ProductEvent is sent when a product is purchased.
type ProductEvent struct {
	Identity
	ProductID  int64 `json:"product_id,omitempty"`
	HasProduct bool  `json:"-"`
}

// BundleEvent is sent when a bundle is assigned or its status changes.
type BundleEvent struct {
	Identity
	BundleID         int64  `json:"bundle_id,omitempty"`
	HasBundle        bool   `json:"-"`
	BundleStatusName string `json:"bundle_status_name,omitempty"`
}

// AccountUpdateEvent is sent when a member edits their account details.
type AccountUpdateEvent struct {
	Identity
	PreviousEmail string `json:"previous_email,omitempty"`
}

func identityFrom(f EventFields) Identity {
	return Identity{
		Email:     f.Get("email"),
		FirstName: f.Get("first_name"),
	}
}

// ParseMemberEvent builds a MemberEvent. The level id is read from
// membership_level_id, falling back to MemberMouse's membership_level.
func ParseMemberEvent(f EventFields) MemberEvent {
	ev := MemberEvent{
		Identity:   identityFrom(f),
		StatusName: f.Get("status_name"),
	}
	if id, ok := f.Int("membership_level_id"); ok {
		ev.MembershipLevelID, ev.HasLevel = id, true
	} else if id, ok := f.Int("membership_level"); ok {
		ev.MembershipLevelID, ev.HasLevel = id, true
	}
	return ev
}

// ParseProductEvent builds a ProductEvent.
func ParseProductEvent(f EventFields) ProductEvent {
	ev := ProductEvent{Identity: identityFrom(f)}
	ev.ProductID, ev.HasProduct = f.Int("product_id")
	return ev
}

// ParseBundleEvent builds a BundleEvent.
func ParseBundleEvent(f EventFields) BundleEvent {
	ev := BundleEvent{
		Identity:         identityFrom(f),
		BundleStatusName: f.Get("bundle_status_name"),
	}
	ev.BundleID, ev.HasBundle = f.Int("bundle_id")
	return ev
}

// ParseAccountUpdateEvent builds an AccountUpdateEvent.
func ParseAccountUpdateEvent(f EventFields) AccountUpdateEvent {
	return AccountUpdateEvent{
		Identity:      identityFrom(f),
		PreviousEmail: f.Get("previous_email"),
	}
}
