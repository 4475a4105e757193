package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataops/strata/internal/model"
)

// GetCompany retrieves a company by ID.
func (db *DB) GetCompany(ctx context.Context, companyID uuid.UUID) (*model.Company, error) {
	var c model.Company
	err := db.pool.QueryRow(ctx,
		`SELECT id, site_id, name, created_at FROM companies WHERE id = $1`, companyID,
	).Scan(&c.ID, &c.SiteID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get company: %w", err)
	}
	return &c, nil
}

// GetSite retrieves a site by ID.
func (db *DB) GetSite(ctx context.Context, siteID uuid.UUID) (*model.Site, error) {
	var s model.Site
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM sites WHERE id = $1`, siteID,
	).Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get site: %w", err)
	}
	return &s, nil
}

// GetCompanyMembership retrieves a user's membership row in a company.
func (db *DB) GetCompanyMembership(ctx context.Context, companyID, userID uuid.UUID) (*model.CompanyMembership, error) {
	var m model.CompanyMembership
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, company_id, role, status, created_at
		 FROM company_memberships WHERE company_id = $1 AND user_id = $2`,
		companyID, userID,
	).Scan(&m.UserID, &m.CompanyID, &m.Role, &m.Status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get company membership: %w", err)
	}
	return &m, nil
}

// GetSiteMembership retrieves a user's membership row in a site.
func (db *DB) GetSiteMembership(ctx context.Context, siteID, userID uuid.UUID) (*model.SiteMembership, error) {
	var m model.SiteMembership
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, site_id, role, status, created_at
		 FROM site_memberships WHERE site_id = $1 AND user_id = $2`,
		siteID, userID,
	).Scan(&m.UserID, &m.SiteID, &m.Role, &m.Status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get site membership: %w", err)
	}
	return &m, nil
}

// CreateSite inserts a site.
func (db *DB) CreateSite(ctx context.Context, s model.Site) (model.Site, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sites (id, name, created_at) VALUES ($1, $2, $3)`,
		s.ID, s.Name, s.CreatedAt,
	)
	if err != nil {
		return model.Site{}, fmt.Errorf("storage: create site: %w", err)
	}
	return s, nil
}

// CreateCompany inserts a company.
func (db *DB) CreateCompany(ctx context.Context, c model.Company) (model.Company, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO companies (id, site_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.SiteID, c.Name, c.CreatedAt,
	)
	if err != nil {
		return model.Company{}, fmt.Errorf("storage: create company: %w", err)
	}
	return c, nil
}

// UpsertCompanyMembership inserts or updates a company membership.
func (db *DB) UpsertCompanyMembership(ctx context.Context, m model.CompanyMembership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO company_memberships (user_id, company_id, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, company_id) DO UPDATE SET role = $3, status = $4`,
		m.UserID, m.CompanyID, m.Role, m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert company membership: %w", err)
	}
	return nil
}

// UpsertSiteMembership inserts or updates a site membership.
func (db *DB) UpsertSiteMembership(ctx context.Context, m model.SiteMembership) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO site_memberships (user_id, site_id, role, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, site_id) DO UPDATE SET role = $3, status = $4`,
		m.UserID, m.SiteID, m.Role, m.Status, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert site membership: %w", err)
	}
	return nil
}
