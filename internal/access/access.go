// Package access resolves whether a user may act on behalf of a company.
//
// Two independent paths grant access: an active membership in the company
// itself, or an active site-level admin role on the site the company
// belongs to. Suspended rows never grant anything, whatever their role.
// Both paths are checked concurrently and either one is sufficient.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/strataops/strata/internal/model"
	"github.com/strataops/strata/internal/storage"
)

// Store is the subset of storage the resolver needs.
type Store interface {
	GetCompany(ctx context.Context, companyID uuid.UUID) (*model.Company, error)
	GetCompanyMembership(ctx context.Context, companyID, userID uuid.UUID) (*model.CompanyMembership, error)
	GetSiteMembership(ctx context.Context, siteID, userID uuid.UUID) (*model.SiteMembership, error)
}

// Resolver answers company-scoped access questions.
type Resolver struct {
	store Store
}

func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// CanUseCompany reports whether userID may use AI features scoped to
// companyID. An unknown company is reported as no access, not an error.
func (r *Resolver) CanUseCompany(ctx context.Context, companyID, userID uuid.UUID) (bool, error) {
	company, err := r.store.GetCompany(ctx, companyID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("access: load company: %w", err)
	}

	var viaMembership, viaSiteRole bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := r.store.GetCompanyMembership(gctx, companyID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("access: load company membership: %w", err)
		}
		viaMembership = m.Status == model.MembershipActive
		return nil
	})
	g.Go(func() error {
		sm, err := r.store.GetSiteMembership(gctx, company.SiteID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("access: load site membership: %w", err)
		}
		viaSiteRole = sm.Status == model.MembershipActive &&
			(sm.Role == model.SiteRoleAdmin || sm.Role == model.SiteRoleSuper)
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	return viaMembership || viaSiteRole, nil
}

// CanManageCompanySecrets reports whether userID may set, check, or delete
// integration secrets scoped to companyID. This is stricter than
// CanUseCompany: plain members do not qualify, only company admins and
// site-level admins.
func (r *Resolver) CanManageCompanySecrets(ctx context.Context, companyID, userID uuid.UUID) (bool, error) {
	company, err := r.store.GetCompany(ctx, companyID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("access: load company: %w", err)
	}

	var viaAdmin, viaSiteRole bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := r.store.GetCompanyMembership(gctx, companyID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("access: load company membership: %w", err)
		}
		viaAdmin = m.Status == model.MembershipActive && m.Role == model.CompanyRoleAdmin
		return nil
	})
	g.Go(func() error {
		sm, err := r.store.GetSiteMembership(gctx, company.SiteID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("access: load site membership: %w", err)
		}
		viaSiteRole = sm.Status == model.MembershipActive &&
			(sm.Role == model.SiteRoleAdmin || sm.Role == model.SiteRoleSuper)
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	return viaAdmin || viaSiteRole, nil
}

// CanManageSiteSecrets reports whether userID may manage secrets scoped
// directly to siteID. Only site-level admin roles qualify.
func (r *Resolver) CanManageSiteSecrets(ctx context.Context, siteID, userID uuid.UUID) (bool, error) {
	sm, err := r.store.GetSiteMembership(ctx, siteID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("access: load site membership: %w", err)
	}
	return sm.Status == model.MembershipActive &&
		(sm.Role == model.SiteRoleAdmin || sm.Role == model.SiteRoleSuper), nil
}
