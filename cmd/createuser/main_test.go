package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"yetti-auth/internal/config"
	"yetti-auth/internal/database"
	"yetti-auth/internal/service"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "yetti.db")
	cfg.Auth.PasswordMinLength = 8
	cfg.Auth.BcryptCost = bcrypt.MinCost
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		username string
		email    string
		stdin    string
		wantErr  string
		wantUser string
	}{
		{
			name:     "prompts for everything",
			stdin:    "admin\nadmin@example.com\nsecretpass1\nsecretpass1\n",
			wantUser: "admin",
		},
		{
			name:     "flags skip prompts",
			username: "flagged",
			email:    "flagged@example.com",
			stdin:    "secretpass1\nsecretpass1\n",
			wantUser: "flagged",
		},
		{
			name:     "password mismatch",
			username: "admin",
			stdin:    "\nsecretpass1\nsecretpass2\n",
			wantErr:  "passwords do not match",
		},
		{
			name:     "short password",
			username: "admin",
			stdin:    "\nshort\nshort\n",
			wantErr:  "at least 8 characters",
		},
		{
			name:    "stdin closed",
			stdin:   "",
			wantErr: "read input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			var out bytes.Buffer
			con := newConsole(strings.NewReader(tt.stdin), &out)

			err := run(context.Background(), cfg, quietLogger(), con, tt.username, tt.email)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if !strings.Contains(out.String(), fmt.Sprintf("User %q created", tt.wantUser)) {
				t.Fatalf("unexpected output %q", out.String())
			}

			repos, err := database.Open(context.Background(), cfg, quietLogger())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer repos.Close()
			user, err := repos.Users.GetByUsername(context.Background(), tt.wantUser)
			if err != nil {
				t.Fatalf("expected user %q: %v", tt.wantUser, err)
			}
			if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secretpass1")); err != nil {
				t.Fatalf("stored hash does not verify: %v", err)
			}
		})
	}
}

func TestRunDuplicateUser(t *testing.T) {
	cfg := testConfig(t)
	input := "secretpass1\nsecretpass1\n"
	if err := run(context.Background(), cfg, quietLogger(), newConsole(strings.NewReader(input), io.Discard), "admin", ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	err := run(context.Background(), cfg, quietLogger(), newConsole(strings.NewReader(input), io.Discard), "admin", "")
	if err == nil || err.Error() != "that username is already taken" {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	other := errors.New("disk full")
	tests := []struct {
		err  error
		want string
	}{
		{err: &service.PasswordTooShortError{Min: 8}, want: "password is too short, it must contain at least 8 characters"},
		{err: service.ErrUserAlreadyExists, want: "that username is already taken"},
		{err: service.ErrPasswordMismatch, want: "passwords do not match"},
		{err: service.ErrPasswordEntirelyNumeric, want: "password is entirely numeric"},
		{err: fmt.Errorf("wrapped: %w", service.ErrPasswordMismatch), want: "passwords do not match"},
		{err: other, want: "disk full"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); got.Error() != tt.want {
			t.Errorf("describe(%v) = %q, want %q", tt.err, got.Error(), tt.want)
		}
	}
}
