// Package model defines the domain types and API contracts for the Strata
// AI subsystem: tenancy (sites, companies, memberships), AI settings,
// encrypted secrets, document chunks, and the usage ledger.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Site is the parent tenant grouping one or more companies.
type Site struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Company is a single tenant. Every company belongs to exactly one site.
type Company struct {
	ID        uuid.UUID `json:"id"`
	SiteID    uuid.UUID `json:"site_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CompanyRole is a user's role within a company membership.
type CompanyRole string

// Company membership roles.
const (
	CompanyRoleMember CompanyRole = "member"
	CompanyRoleAdmin  CompanyRole = "admin"
)

// SiteRole is a user's role within a site membership. Both roles may
// administer any company under the site without a per-company membership.
type SiteRole string

// Site membership roles.
const (
	SiteRoleAdmin SiteRole = "site_admin"
	SiteRoleSuper SiteRole = "super_admin"
)

// MembershipStatus marks whether a membership row is currently active.
type MembershipStatus string

// Membership statuses.
const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// CompanyMembership links a user to a company.
type CompanyMembership struct {
	UserID    uuid.UUID        `json:"user_id"`
	CompanyID uuid.UUID        `json:"company_id"`
	Role      CompanyRole      `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// SiteMembership links a user to a site with an operator role.
type SiteMembership struct {
	UserID    uuid.UUID        `json:"user_id"`
	SiteID    uuid.UUID        `json:"site_id"`
	Role      SiteRole         `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}
