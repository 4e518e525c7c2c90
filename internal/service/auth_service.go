package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/config"
	appErrors "github.com/civicdesk/civicdesk-api/pkg/errors"
)

type httpAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.HTTPAuditLog) error
}

// AuthService resolves identities against the static staff directory and
// issues JWTs. There is no user table: who you are follows from your email,
// so revoking access is a config change, not a data migration.
type AuthService struct {
	jwtConfig config.JWTConfig
	directory config.DirectoryConfig
	audit     httpAuditWriter
	validator *validator.Validate
	logger    *zap.Logger

	admins    map[string]struct{}
	deptHeads map[string]models.Department
}

// NewAuthService constructs an auth service from the configured directory.
func NewAuthService(jwtConfig config.JWTConfig, directory config.DirectoryConfig, audit httpAuditWriter, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	admins := make(map[string]struct{}, len(directory.AdminEmails))
	for _, email := range directory.AdminEmails {
		admins[normalizeEmail(email)] = struct{}{}
	}
	deptHeads := make(map[string]models.Department, len(directory.DepartmentHeads))
	for _, pair := range directory.DepartmentHeads {
		email, dept, ok := strings.Cut(pair, ":")
		if !ok {
			logger.Warn("skipping malformed department head entry", zap.String("entry", pair))
			continue
		}
		department := models.Department(strings.TrimSpace(dept))
		if !department.Valid() {
			logger.Warn("skipping department head with unknown department", zap.String("entry", pair))
			continue
		}
		deptHeads[normalizeEmail(email)] = department
	}

	return &AuthService{
		jwtConfig: jwtConfig,
		directory: directory,
		audit:     audit,
		validator: validate,
		logger:    logger,
		admins:    admins,
		deptHeads: deptHeads,
	}
}

// Login resolves the email against the directory and returns a signed token.
// Staff logins additionally require the shared access code.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	user, err := s.Resolve(req.Email)
	if err != nil {
		return nil, err
	}

	if user.Staff() {
		if s.directory.StaffAccessCodeHash == "" {
			return nil, appErrors.ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.directory.StaffAccessCodeHash), []byte(req.AccessCode)); err != nil {
			return nil, appErrors.ErrInvalidCredentials
		}
	}

	token, expiresAt, err := s.generateToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}

	s.recordLogin(ctx, user, req)

	return &models.LoginResponse{Token: token, ExpiresAt: expiresAt, User: *user}, nil
}

// Resolve maps an email to its directory identity without authenticating.
func (s *AuthService) Resolve(email string) (*models.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return nil, appErrors.ErrInvalidCredentials
	}

	user := &models.User{
		ID:    deterministicUserID(normalized),
		Email: normalized,
		Role:  models.RoleUser,
	}
	if _, ok := s.admins[normalized]; ok {
		user.Role = models.RoleAdmin
		return user, nil
	}
	if dept, ok := s.deptHeads[normalized]; ok {
		user.Role = models.RoleDepartmentHead
		user.Department = &dept
		return user, nil
	}
	if !s.domainAllowed(normalized) {
		return nil, appErrors.ErrUnknownStaff
	}
	return user, nil
}

// ValidateToken parses and verifies a bearer token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, appErrors.ErrUnauthorized
		}
		return []byte(s.jwtConfig.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.ErrUnauthorized
	}
	return claims, nil
}

func (s *AuthService) generateToken(user *models.User) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.jwtConfig.Expiration)

	claims := models.JWTClaims{
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		Department: user.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.jwtConfig.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtConfig.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *AuthService) recordLogin(ctx context.Context, user *models.User, req *models.LoginRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"email": user.Email, "role": string(user.Role)})
	entry := &models.HTTPAuditLog{
		UserID:    &user.ID,
		Action:    models.HTTPAuditActionLogin,
		Resource:  "session",
		NewValues: payload,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record login audit entry", zap.Error(err))
	}
}

func (s *AuthService) domainAllowed(email string) bool {
	if len(s.directory.AllowedEmailDomains) == 0 {
		return true
	}
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return false
	}
	for _, allowed := range s.directory.AllowedEmailDomains {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// deterministicUserID derives a stable ID from the email so the same person
// keeps the same identity across logins without a user table.
func deterministicUserID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(email)).String()
}
