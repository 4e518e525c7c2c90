package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/config"
	appErrors "github.com/civicdesk/civicdesk-api/pkg/errors"
)

type fakeAuditTrail struct {
	entries []models.HTTPAuditLog
}

func (f *fakeAuditTrail) CreateAuditLog(_ context.Context, log *models.HTTPAuditLog) error {
	f.entries = append(f.entries, *log)
	return nil
}

func newTestAuthService(t *testing.T, audit *fakeAuditTrail) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	return NewAuthService(
		config.JWTConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "civicdesk-test"},
		config.DirectoryConfig{
			AdminEmails:         []string{"admin@city.gov"},
			DepartmentHeads:     []string{"head@city.gov:Public Works", "broken-entry", "weird@city.gov:Sanitation"},
			StaffAccessCodeHash: string(hash),
			AllowedEmailDomains: []string{"city.gov", "example.com"},
		},
		audit,
		nil,
		nil,
	)
}

func TestLoginAdmin(t *testing.T) {
	audit := &fakeAuditTrail{}
	svc := newTestAuthService(t, audit)

	resp, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:      "Admin@City.gov",
		AccessCode: "open-sesame",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
	assert.Equal(t, "admin@city.gov", resp.User.Email)
	assert.NotEmpty(t, resp.Token)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.HTTPAuditActionLogin, audit.entries[0].Action)
}

func TestLoginStaffRejectsWrongAccessCode(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	_, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:      "admin@city.gov",
		AccessCode: "wrong",
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestLoginDepartmentHead(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	resp, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:      "head@city.gov",
		AccessCode: "open-sesame",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleDepartmentHead, resp.User.Role)
	require.NotNil(t, resp.User.Department)
	assert.Equal(t, models.DepartmentPublicWorks, *resp.User.Department)
}

func TestResolveSkipsMalformedDirectoryEntries(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	// "weird@city.gov:Sanitation" names an unknown department and is dropped
	// at construction; the email falls through to a plain citizen.
	user, err := svc.Resolve("weird@city.gov")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
}

func TestLoginCitizenNeedsNoAccessCode(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	resp, err := svc.Login(context.Background(), &models.LoginRequest{Email: "resident@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, resp.User.Role)
	assert.False(t, resp.User.Staff())
}

func TestLoginRejectsDisallowedDomain(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	_, err := svc.Login(context.Background(), &models.LoginRequest{Email: "someone@elsewhere.org"})
	assert.ErrorIs(t, err, appErrors.ErrUnknownStaff)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	resp, err := svc.Login(context.Background(), &models.LoginRequest{
		Email:      "head@city.gov",
		AccessCode: "open-sesame",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, models.RoleDepartmentHead, claims.Role)
	require.NotNil(t, claims.Department)
	assert.Equal(t, models.DepartmentPublicWorks, *claims.Department)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestDeterministicUserID(t *testing.T) {
	svc := newTestAuthService(t, &fakeAuditTrail{})

	first, err := svc.Resolve("resident@example.com")
	require.NoError(t, err)
	second, err := svc.Resolve("Resident@Example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
