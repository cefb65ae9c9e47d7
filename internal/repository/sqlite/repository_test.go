package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"yetti-auth/internal/domain"
	"yetti-auth/internal/repository"
	"yetti-auth/internal/repository/migrations"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Up(context.Background(), db, migrations.DialectSQLite, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestUserRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	user := &domain.User{Username: "newuser", Email: "newuser@example.com", PasswordHash: "hash"}
	id, err := repo.Create(ctx, user)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == 0 || user.ID != id {
		t.Fatalf("expected id to be assigned, got %d (user.ID=%d)", id, user.ID)
	}

	byName, err := repo.GetByUsername(ctx, "newuser")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if byName.ID != id || byName.Email != "newuser@example.com" || byName.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v", byName)
	}
	if byName.LastLogin != nil {
		t.Fatalf("expected no last login, got %v", byName.LastLogin)
	}

	byID, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Username != "newuser" {
		t.Fatalf("expected username newuser, got %q", byID.Username)
	}
}

func TestUserRepositoryDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	if _, err := repo.Create(ctx, &domain.User{Username: "existinguser", PasswordHash: "a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := repo.Create(ctx, &domain.User{Username: "existinguser", Email: "other@example.com", PasswordHash: "b"})
	if !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUserRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	if _, err := repo.GetByUsername(ctx, "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, 42); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdatePassword(ctx, 42, "x"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepositoryUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t))

	user := &domain.User{Username: "testuser", PasswordHash: "old"}
	if _, err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdatePassword(ctx, user.ID, "new"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	loginAt := time.Now().UTC().Truncate(time.Second)
	if err := repo.TouchLastLogin(ctx, user.ID, loginAt); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}

	got, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.PasswordHash != "new" {
		t.Fatalf("expected updated hash, got %q", got.PasswordHash)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(loginAt) {
		t.Fatalf("expected last login %v, got %v", loginAt, got.LastLogin)
	}
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserRepository(db)
	sessions := NewSessionRepository(db)

	user := &domain.User{Username: "testuser", PasswordHash: "hash"}
	if _, err := users.Create(ctx, user); err != nil {
		t.Fatalf("Create user: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	live := &domain.Session{Key: "live", UserID: user.ID, AuthHash: "h1", ExpiresAt: now.Add(time.Hour)}
	stale := &domain.Session{Key: "stale", UserID: user.ID, AuthHash: "h1", ExpiresAt: now.Add(-time.Minute)}
	for _, s := range []*domain.Session{live, stale} {
		if err := sessions.Save(ctx, s); err != nil {
			t.Fatalf("Save %s: %v", s.Key, err)
		}
	}

	got, err := sessions.Get(ctx, "live")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != user.ID || got.AuthHash != "h1" || !got.ExpiresAt.Equal(live.ExpiresAt) {
		t.Fatalf("unexpected session %+v", got)
	}

	live.AuthHash = "h2"
	if err := sessions.Save(ctx, live); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	got, err = sessions.Get(ctx, "live")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.AuthHash != "h2" {
		t.Fatalf("expected upserted auth hash, got %q", got.AuthHash)
	}

	n, err := sessions.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session removed, got %d", n)
	}
	if _, err := sessions.Get(ctx, "stale"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected stale session gone, got %v", err)
	}

	if err := sessions.Delete(ctx, "live"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := sessions.Get(ctx, "live"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected deleted session gone, got %v", err)
	}
}
