package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataops/strata/internal/model"
	"github.com/strataops/strata/internal/storage"
	"github.com/strataops/strata/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	testDB = db

	code := m.Run()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// seedCompany creates a site and a company under it.
func seedCompany(t *testing.T) (model.Site, model.Company) {
	t.Helper()
	ctx := context.Background()

	site, err := testDB.CreateSite(ctx, model.Site{ID: uuid.New(), Name: "site-" + uuid.NewString()[:8]})
	require.NoError(t, err)

	company, err := testDB.CreateCompany(ctx, model.Company{
		ID: uuid.New(), SiteID: site.ID, Name: "co-" + uuid.NewString()[:8],
	})
	require.NoError(t, err)
	return site, company
}

func testVector() pgvector.Vector {
	v := make([]float32, 1536)
	v[0] = 1
	return pgvector.NewVector(v)
}

func TestCompanyRoundTrip(t *testing.T) {
	ctx := context.Background()
	site, company := seedCompany(t)

	got, err := testDB.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, company.ID, got.ID)
	assert.Equal(t, site.ID, got.SiteID)

	_, err = testDB.GetCompany(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMembershipUpsert(t *testing.T) {
	ctx := context.Background()
	site, company := seedCompany(t)
	userID := uuid.New()

	require.NoError(t, testDB.UpsertCompanyMembership(ctx, model.CompanyMembership{
		UserID: userID, CompanyID: company.ID,
		Role: model.CompanyRoleMember, Status: model.MembershipActive,
	}))

	m, err := testDB.GetCompanyMembership(ctx, company.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.CompanyRoleMember, m.Role)

	// Second upsert changes the role in place.
	require.NoError(t, testDB.UpsertCompanyMembership(ctx, model.CompanyMembership{
		UserID: userID, CompanyID: company.ID,
		Role: model.CompanyRoleAdmin, Status: model.MembershipActive,
	}))
	m, err = testDB.GetCompanyMembership(ctx, company.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.CompanyRoleAdmin, m.Role)

	require.NoError(t, testDB.UpsertSiteMembership(ctx, model.SiteMembership{
		UserID: userID, SiteID: site.ID,
		Role: model.SiteRoleAdmin, Status: model.MembershipActive,
	}))
	sm, err := testDB.GetSiteMembership(ctx, site.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.SiteRoleAdmin, sm.Role)

	_, err = testDB.GetCompanyMembership(ctx, company.ID, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAISettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	_, err := testDB.GetCompanyAISettings(ctx, company.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, testDB.UpsertCompanyAISettings(ctx, model.CompanyAISettings{
		CompanyID: company.ID, AIEnabled: true,
		AllowWorkflowCopilot: true, DailyTokenBudget: 50000,
	}))

	s, err := testDB.GetCompanyAISettings(ctx, company.ID)
	require.NoError(t, err)
	assert.True(t, s.AIEnabled)
	assert.True(t, s.AllowWorkflowCopilot)
	assert.False(t, s.AllowTemplateCopilot)
	assert.Equal(t, int64(50000), s.DailyTokenBudget)
}

func TestSecretsLifecycle(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	secrets := map[string]string{
		"api_key":        "v1:envelope-a",
		"signing_secret": "v1:envelope-b",
	}
	require.NoError(t, testDB.SetSecrets(ctx, model.ScopeCompany, company.ID, "slack", secrets))

	got, err := testDB.GetSecret(ctx, model.ScopeCompany, company.ID, "slack", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "v1:envelope-a", got.EncryptedValue)

	keys, err := testDB.ListSecretKeys(ctx, model.ScopeCompany, company.ID, "slack")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "api_key", keys[0].SecretKey)
	assert.Equal(t, "signing_secret", keys[1].SecretKey)

	// Setting secrets stamps the integration's secret_ref.
	integ, err := testDB.GetIntegration(ctx, model.ScopeCompany, company.ID, "slack")
	require.NoError(t, err)
	require.NotNil(t, integ.SecretRef)
	assert.Equal(t, model.SecretRef(model.ScopeCompany, company.ID, "slack"), *integ.SecretRef)
	require.NotNil(t, integ.SecretConfiguredAt)

	// Re-setting one key overwrites in place, leaving the other intact.
	require.NoError(t, testDB.SetSecrets(ctx, model.ScopeCompany, company.ID, "slack",
		map[string]string{"api_key": "v1:envelope-a2"}))
	got, err = testDB.GetSecret(ctx, model.ScopeCompany, company.ID, "slack", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "v1:envelope-a2", got.EncryptedValue)
	keys, err = testDB.ListSecretKeys(ctx, model.ScopeCompany, company.ID, "slack")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	// Delete removes all provider rows and clears the ref.
	removed, err := testDB.DeleteSecrets(ctx, model.ScopeCompany, company.ID, "slack")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = testDB.GetSecret(ctx, model.ScopeCompany, company.ID, "slack", "api_key")
	require.ErrorIs(t, err, storage.ErrNotFound)

	integ, err = testDB.GetIntegration(ctx, model.ScopeCompany, company.ID, "slack")
	require.NoError(t, err)
	assert.Nil(t, integ.SecretRef)
	assert.Nil(t, integ.SecretConfiguredAt)
}

func TestSecretsScopedIndependently(t *testing.T) {
	ctx := context.Background()
	site, company := seedCompany(t)

	require.NoError(t, testDB.SetSecrets(ctx, model.ScopeSite, site.ID, "openai",
		map[string]string{"api_key": "v1:site-key"}))

	// The company scope sees nothing even with a matching provider.
	_, err := testDB.GetSecret(ctx, model.ScopeCompany, company.ID, "openai", "api_key")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := testDB.GetSecret(ctx, model.ScopeSite, site.ID, "openai", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "v1:site-key", got.EncryptedValue)
}

func TestIntegrationEnabledFlag(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	_, err := testDB.GetIntegration(ctx, model.ScopeCompany, company.ID, "hubspot")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, testDB.SetIntegrationEnabled(ctx, model.ScopeCompany, company.ID, "hubspot", true))

	integ, err := testDB.GetIntegration(ctx, model.ScopeCompany, company.ID, "hubspot")
	require.NoError(t, err)
	assert.True(t, integ.IsEnabled)

	require.NoError(t, testDB.SetIntegrationEnabled(ctx, model.ScopeCompany, company.ID, "hubspot", false))
	integ, err = testDB.GetIntegration(ctx, model.ScopeCompany, company.ID, "hubspot")
	require.NoError(t, err)
	assert.False(t, integ.IsEnabled)
}

func TestUsageLogSumWindow(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	insert := func(status model.UsageStatus, total int, createdAt time.Time) {
		t.Helper()
		require.NoError(t, testDB.InsertUsageEntry(ctx, model.UsageEntry{
			RequestID: uuid.NewString(),
			CompanyID: &company.ID,
			Status:    status,
			TotalTokens: func() *int {
				if total == 0 {
					return nil
				}
				return &total
			}(),
			CreatedAt: createdAt,
		}))
	}

	now := time.Now().UTC()
	insert(model.UsageSuccess, 100, now.Add(-2*time.Hour))
	insert(model.UsageSuccess, 250, now.Add(-30*time.Minute))
	insert(model.UsageBlocked, 0, now.Add(-10*time.Minute))
	insert(model.UsageError, 0, now.Add(-5*time.Minute))
	insert(model.UsageSuccess, 999, now.Add(-48*time.Hour)) // outside window

	sum, err := testDB.SumTokensSince(ctx, company.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(350), sum)

	// A company with no rows sums to zero, not an error.
	sum, err = testDB.SumTokensSince(ctx, uuid.New(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
}

func TestListUsageEntries(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	for i := 0; i < 3; i++ {
		total := (i + 1) * 10
		require.NoError(t, testDB.InsertUsageEntry(ctx, model.UsageEntry{
			RequestID:   uuid.NewString(),
			CompanyID:   &company.ID,
			Status:      model.UsageSuccess,
			TotalTokens: &total,
			CreatedAt:   time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := testDB.ListUsageEntries(ctx, company.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	require.NotNil(t, entries[0].TotalTokens)
	assert.Equal(t, 30, *entries[0].TotalTokens)
}

func TestReplaceSourceChunks(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	mkChunks := func(n int, content string) []model.DocumentChunk {
		chunks := make([]model.DocumentChunk, n)
		for i := range chunks {
			chunks[i] = model.DocumentChunk{
				CompanyID: company.ID, SourceTable: "workflows", SourceID: "wf-1",
				ChunkIndex: i, Content: content, TokenCount: 5,
				Embedding: testVector(), EmbeddingModel: "text-embedding-3-small",
			}
		}
		return chunks
	}

	require.NoError(t, testDB.ReplaceSourceChunks(ctx, company.ID, "workflows", "wf-1", mkChunks(3, "first pass")))

	count, err := testDB.CountSourceChunks(ctx, company.ID, "workflows", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Re-ingesting with fewer chunks leaves no stale tail behind.
	require.NoError(t, testDB.ReplaceSourceChunks(ctx, company.ID, "workflows", "wf-1", mkChunks(2, "second pass")))

	count, err = testDB.CountSourceChunks(ctx, company.ID, "workflows", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertChunksInPlace(t *testing.T) {
	ctx := context.Background()
	_, company := seedCompany(t)

	chunk := model.DocumentChunk{
		CompanyID: company.ID, SourceTable: "docs", SourceID: "d-1",
		ChunkIndex: 0, Content: "v1", TokenCount: 1,
		Embedding: testVector(), EmbeddingModel: "text-embedding-3-small",
	}
	require.NoError(t, testDB.UpsertChunks(ctx, []model.DocumentChunk{chunk}))

	chunk.Content = "v2"
	require.NoError(t, testDB.UpsertChunks(ctx, []model.DocumentChunk{chunk}))

	count, err := testDB.CountSourceChunks(ctx, company.ID, "docs", "d-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := testDB.DeleteSourceChunks(ctx, company.ID, "docs", "d-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
