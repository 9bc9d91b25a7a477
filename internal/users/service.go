package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength    = 8
	adminCacheSize       = 1024
	defaultAdminCacheTTL = 30 * time.Second
)

var (
	// ErrInvalidCredentials indicates the email/password pair did not match a profile.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrEmailTaken indicates a profile already exists for the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidProfile indicates sign-up input failed validation.
	ErrInvalidProfile = errors.New("users: invalid profile")
	// ErrProfileNotFound indicates no profile exists for the identifier.
	ErrProfileNotFound = errors.New("users: profile not found")
)

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  gym.IDProvider
	Logger      *zap.Logger
	AdminEmails []string
	HashCost    int

	// AdminCacheTTL bounds how long a resolved admin flag is trusted. Negative disables caching.
	AdminCacheTTL time.Duration
}

// Service registers climbers, verifies their passwords and resolves admin status.
type Service struct {
	db          *gorm.DB
	now         func() time.Time
	idProvider  gym.IDProvider
	logger      *zap.Logger
	adminEmails map[string]struct{}
	hashCost    int
	adminCache  *expirable.LRU[string, bool]
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = gym.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if normalized := normalizeEmail(email); normalized != "" {
			admins[normalized] = struct{}{}
		}
	}
	service := &Service{
		db:          cfg.Database,
		now:         clock,
		idProvider:  idProvider,
		logger:      logger,
		adminEmails: admins,
		hashCost:    hashCost,
	}
	ttl := cfg.AdminCacheTTL
	if ttl == 0 {
		ttl = defaultAdminCacheTTL
	}
	if ttl > 0 {
		service.adminCache = expirable.NewLRU[string, bool](adminCacheSize, nil, ttl)
	}
	return service, nil
}

// SignUp registers a new profile. The username defaults to the local part of the email.
func (s *Service) SignUp(ctx context.Context, email, password, username string) (Profile, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" {
		return Profile{}, fmt.Errorf("%w: email", ErrInvalidProfile)
	}
	if len(password) < minPasswordLength {
		return Profile{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidProfile, minPasswordLength)
	}
	name := normalize(username)
	if name == "" {
		name = strings.SplitN(normalizedEmail, "@", 2)[0]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Profile{}, fmt.Errorf("users: hash password: %w", err)
	}
	profileID, err := s.idProvider.NewID()
	if err != nil {
		return Profile{}, fmt.Errorf("users: generate id: %w", err)
	}

	_, admin := s.adminEmails[normalizedEmail]
	profile := Profile{
		ID:           profileID,
		Email:        normalizedEmail,
		Username:     name,
		PasswordHash: string(hash),
		IsAdmin:      admin,
		CreatedAt:    s.now().UTC(),
		UpdatedAt:    s.now().UTC(),
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Profile{}).Where("email = ?", normalizedEmail).Count(&existing).Error; err != nil {
		return Profile{}, err
	}
	if existing > 0 {
		return Profile{}, ErrEmailTaken
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Profile{}, ErrEmailTaken
		}
		return Profile{}, err
	}

	s.rememberAdmin(profile)
	s.logger.Info("profile registered", zap.String("user_id", profile.ID), zap.Bool("is_admin", profile.IsAdmin))
	return profile, nil
}

// Authenticate verifies the password and returns the matching profile. Profiles whose
// email was added to the admin list after registration are promoted here.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	normalizedEmail := normalizeEmail(email)
	var profile Profile
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return Profile{}, ErrInvalidCredentials
	}

	if _, listed := s.adminEmails[normalizedEmail]; listed && !profile.IsAdmin {
		if err := s.db.WithContext(ctx).Model(&Profile{}).
			Where("id = ?", profile.ID).
			Update("is_admin", true).Error; err != nil {
			s.logger.Warn("admin promotion failed", zap.String("user_id", profile.ID), zap.Error(err))
		} else {
			profile.IsAdmin = true
		}
	}

	s.rememberAdmin(profile)
	return profile, nil
}

// GetProfile loads a profile by identifier.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	s.rememberAdmin(profile)
	return profile, nil
}

// IsAdmin reports whether the user holds the admin flag.
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if s.adminCache != nil {
		if admin, ok := s.adminCache.Get(userID); ok {
			return admin, nil
		}
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return false, err
	}
	return profile.IsAdmin, nil
}

func (s *Service) rememberAdmin(profile Profile) {
	if s.adminCache != nil {
		s.adminCache.Add(profile.ID, profile.IsAdmin)
	}
}
