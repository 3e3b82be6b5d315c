package services

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/utils"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// UserService manages accounts and preferences.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// RegisterInput is a local sign-up request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PreferencesPatch updates a subset of the preferences. DefaultProjectID 0 clears it.
type PreferencesPatch struct {
	NotifyFriendCheckIns *bool   `json:"notify_friend_checkins"`
	TelegramChatID       *string `json:"telegram_chat_id"`
	DefaultProjectID     *uint   `json:"default_project_id"`
}

// Register creates an account with a bcrypt password hash.
func (s *UserService) Register(ctx context.Context, in RegisterInput, ip string) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, invalid("username", "username must be 3-32 letters, digits, '-' or '_'")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, invalid("email", "invalid email address")
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, utils.ErrWeakPassword) {
			return nil, invalid("password", err.Error())
		}
		return nil, err
	}

	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		RegisterIP:   ip,
		Preferences:  datatypes.NewJSONType(models.UserPreferences{}),
	}
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.User{}).Where("username = ? OR email = ?", username, email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrDuplicate
	}
	if err := db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &user, nil
}

// Authenticate checks a username/password pair.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Get loads a user by id.
func (s *UserService) Get(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// UpdatePreferences validates and stores a preferences patch.
func (s *UserService) UpdatePreferences(ctx context.Context, userID uint, patch PreferencesPatch) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			return notFound(err)
		}
		prefs := user.Prefs()
		if patch.NotifyFriendCheckIns != nil {
			prefs.NotifyFriendCheckIns = *patch.NotifyFriendCheckIns
		}
		if patch.TelegramChatID != nil {
			prefs.TelegramChatID = *patch.TelegramChatID
		}
		if patch.DefaultProjectID != nil {
			id := *patch.DefaultProjectID
			prefs.DefaultProjectID = &id
		}
		prefs.Normalize()
		if err := prefs.Validate(); err != nil {
			return invalid("telegram_chat_id", err.Error())
		}
		if prefs.DefaultProjectID != nil {
			ok, err := IsMember(tx, *prefs.DefaultProjectID, userID)
			if err != nil {
				return err
			}
			if !ok {
				return invalid("default_project_id", "default project must be one you belong to")
			}
		}
		user.Preferences = datatypes.NewJSONType(prefs)
		return tx.Model(&user).Update("preferences", user.Preferences).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UsersWithPreferences loads users by id for preference inspection.
func UsersWithPreferences(db *gorm.DB, ids []uint) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := db.Select("id", "username", "preferences").Where("id IN ?", ids).Find(&users).Error
	return users, err
}
