package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when attempting to register with an existing username.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrPasswordMismatch is returned when the password and its confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrUsernameRequired is returned when the username is blank.
	ErrUsernameRequired = errors.New("username is required")
	// ErrPasswordRequired is returned when the password is blank.
	ErrPasswordRequired = errors.New("password is required")
	// ErrPasswordEntirelyNumeric is returned for passwords made only of digits.
	ErrPasswordEntirelyNumeric = errors.New("password is entirely numeric")
)

// PasswordTooShortError reports a password below the configured minimum length.
type PasswordTooShortError struct {
	Min int
}

func (e *PasswordTooShortError) Error() string {
	return fmt.Sprintf("password must be at least %d characters", e.Min)
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	Confirmation string
}

// UserService describes user lifecycle operations.
type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	ChangePassword(ctx context.Context, id int64, oldPassword, newPassword, confirmation string) (*domain.User, error)
}

// UserOptions tunes password policy and hashing cost.
type UserOptions struct {
	// PasswordMinLength of 0 disables the password policy.
	PasswordMinLength int
	BcryptCost        int
}

type userService struct {
	users     repository.UserRepository
	minLength int
	cost      int
	dummyHash []byte
}

func NewUserService(users repository.UserRepository, opts UserOptions) UserService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	// compared against for unknown usernames so both failure paths cost one bcrypt run
	dummy, _ := bcrypt.GenerateFromPassword([]byte("yetti-unusable-password"), opts.BcryptCost)
	return &userService{
		users:     users,
		minLength: opts.PasswordMinLength,
		cost:      opts.BcryptCost,
		dummyHash: dummy,
	}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if username == "" {
		return nil, ErrUsernameRequired
	}
	if in.Password == "" {
		return nil, ErrPasswordRequired
	}
	if in.Password != in.Confirmation {
		return nil, ErrPasswordMismatch
	}
	if err := s.validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

func (s *userService) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword, confirmation string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if newPassword == "" {
		return nil, ErrPasswordRequired
	}
	if newPassword != confirmation {
		return nil, ErrPasswordMismatch
	}
	if err := s.validatePassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *userService) validatePassword(password string) error {
	if s.minLength <= 0 {
		return nil
	}
	if len([]rune(password)) < s.minLength {
		return &PasswordTooShortError{Min: s.minLength}
	}
	if isNumeric(password) {
		return ErrPasswordEntirelyNumeric
	}
	return nil
}

func (s *userService) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// sanitizeUser returns a copy of user without the password hash.
func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := *user
	clean.PasswordHash = ""
	return &clean
}
