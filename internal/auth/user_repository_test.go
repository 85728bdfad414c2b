package auth

import (
	"errors"
	"testing"
	"time"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()

	user := &User{
		Username:     "alice",
		PasswordHash: testPasswordHash(t),
		Role:         RolePro,
		CreatedBy:    "owner",
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if user.ID == "" || user.CreatedAt.IsZero() {
		t.Fatalf("Create() should fill ID and timestamps: %+v", user)
	}

	got, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if got.ID != user.ID || got.Role != RolePro || got.CreatedBy != "owner" {
		t.Errorf("GetByUsername() = %+v", got)
	}
	if got.Banned || got.SuspendedUntil != nil {
		t.Error("new user should be neither banned nor suspended")
	}
}

func TestUserRepository_Duplicate(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	seedTestUser(t, repo, "alice", RoleMember)

	err := repo.Create(t.Context(), &User{Username: "alice", PasswordHash: "x", Role: RoleMember})
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("Create() duplicate error = %v, want ErrUsernameExists", err)
	}
}

func TestUserRepository_RejectsUnknownRole(t *testing.T) {
	repo := NewUserRepository(testDB(t))

	err := repo.Create(t.Context(), &User{Username: "eve", PasswordHash: "x", Role: "admin"})
	if err == nil {
		t.Error("Create() with unknown role should violate the CHECK constraint")
	}
}

func TestUserRepository_NotFound(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()

	if _, err := repo.GetByUsername(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetByUsername() error = %v, want ErrUserNotFound", err)
	}
	if err := repo.SetBanned(ctx, "nobody", true); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetBanned() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepository_ListAndCount(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()

	if n, err := repo.Count(ctx); err != nil || n != 0 {
		t.Fatalf("Count() = %d, %v; want 0", n, err)
	}
	list, err := repo.List(ctx)
	if err != nil || list == nil || len(list) != 0 {
		t.Fatalf("List() on empty table = %v, %v; want empty non-nil slice", list, err)
	}

	seedTestUser(t, repo, "alice", RoleMember)
	seedTestUser(t, repo, "bob", RoleModerator)

	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
	list, err = repo.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("List() = %d users, %v", len(list), err)
	}
}

func TestUserRepository_BanAndSuspend(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()
	seedTestUser(t, repo, "alice", RoleMember)

	if err := repo.SetBanned(ctx, "alice", true); err != nil {
		t.Fatalf("SetBanned() error = %v", err)
	}

	until := time.Date(2026, 3, 1, 12, 0, 30, 123456789, time.UTC)
	if err := repo.SetSuspendedUntil(ctx, "alice", &until); err != nil {
		t.Fatalf("SetSuspendedUntil() error = %v", err)
	}

	got, err := repo.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if !got.Banned {
		t.Error("Banned = false after SetBanned(true)")
	}
	if got.SuspendedUntil == nil || !got.SuspendedUntil.Equal(until) {
		t.Errorf("SuspendedUntil = %v, want %v (full precision)", got.SuspendedUntil, until)
	}

	if err := repo.SetSuspendedUntil(ctx, "alice", nil); err != nil {
		t.Fatalf("SetSuspendedUntil(nil) error = %v", err)
	}
	got, _ = repo.GetByUsername(ctx, "alice")
	if got.SuspendedUntil != nil {
		t.Errorf("SuspendedUntil = %v after clear", got.SuspendedUntil)
	}
}

func TestUserRepository_ClearElapsedSuspensions(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()
	seedTestUser(t, repo, "alice", RoleMember)
	seedTestUser(t, repo, "bob", RoleMember)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	short, long := base.Add(10*time.Second), base.Add(time.Hour)
	repo.SetSuspendedUntil(ctx, "alice", &short) //nolint:errcheck // checked via Clear below
	repo.SetSuspendedUntil(ctx, "bob", &long)    //nolint:errcheck // checked via Clear below

	if n, err := repo.ClearElapsedSuspensions(ctx, base.Add(9*time.Second)); err != nil || n != 0 {
		t.Fatalf("ClearElapsedSuspensions() before end = %d, %v; want 0", n, err)
	}
	if n, err := repo.ClearElapsedSuspensions(ctx, short); err != nil || n != 1 {
		t.Fatalf("ClearElapsedSuspensions() at end = %d, %v; want 1", n, err)
	}

	alice, _ := repo.GetByUsername(ctx, "alice")
	bob, _ := repo.GetByUsername(ctx, "bob")
	if alice.SuspendedUntil != nil {
		t.Error("alice's elapsed suspension not cleared")
	}
	if bob.SuspendedUntil == nil {
		t.Error("bob's running suspension was cleared")
	}
}
