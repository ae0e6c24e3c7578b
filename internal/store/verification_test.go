package store

import (
	"context"
	"testing"
	"time"
)

func TestGenerateVerificationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		code, err := GenerateVerificationCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q is not 6 digits", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Error("20 generated codes were all identical")
	}
}

func TestVerifyCode_MatchIsOneShot(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.StoreVerificationCode(ctx, "User@Example.com", "123456", 10*time.Minute); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Lookup is case-insensitive on the address.
	ok, err := s.VerifyCode(ctx, "user@example.com", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("correct code rejected")
	}

	// A matched code is consumed.
	ok, err = s.VerifyCode(ctx, "user@example.com", "123456")
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if ok {
		t.Error("code verified twice")
	}
}

func TestVerifyCode_WrongCode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.StoreVerificationCode(ctx, "a@b.com", "123456", 10*time.Minute); err != nil {
		t.Fatalf("store: %v", err)
	}

	ok, err := s.VerifyCode(ctx, "a@b.com", "654321")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("wrong code accepted")
	}

	// A wrong guess must not consume the stored code.
	ok, err = s.VerifyCode(ctx, "a@b.com", "123456")
	if err != nil {
		t.Fatalf("verify after wrong guess: %v", err)
	}
	if !ok {
		t.Error("correct code rejected after a wrong guess")
	}
}

func TestVerifyCode_Expired(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.StoreVerificationCode(ctx, "a@b.com", "123456", -time.Minute); err != nil {
		t.Fatalf("store: %v", err)
	}

	ok, err := s.VerifyCode(ctx, "a@b.com", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("expired code accepted")
	}
}

func TestVerifyCode_Unknown(t *testing.T) {
	s := setupTestStore(t)

	ok, err := s.VerifyCode(context.Background(), "nobody@b.com", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("code accepted for address with no stored code")
	}
}

func TestStoreVerificationCode_ReplacesPrevious(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.StoreVerificationCode(ctx, "a@b.com", "111111", 10*time.Minute); err != nil {
		t.Fatalf("store first: %v", err)
	}
	if err := s.StoreVerificationCode(ctx, "a@b.com", "222222", 10*time.Minute); err != nil {
		t.Fatalf("store second: %v", err)
	}

	if ok, _ := s.VerifyCode(ctx, "a@b.com", "111111"); ok {
		t.Error("superseded code accepted")
	}
	if ok, _ := s.VerifyCode(ctx, "a@b.com", "222222"); !ok {
		t.Error("latest code rejected")
	}
}

func TestCleanupExpiredCodes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.StoreVerificationCode(ctx, "stale@b.com", "111111", -time.Minute); err != nil {
		t.Fatalf("store stale: %v", err)
	}
	if err := s.StoreVerificationCode(ctx, "fresh@b.com", "222222", 10*time.Minute); err != nil {
		t.Fatalf("store fresh: %v", err)
	}

	removed, err := s.CleanupExpiredCodes(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if ok, _ := s.VerifyCode(ctx, "fresh@b.com", "222222"); !ok {
		t.Error("cleanup removed an unexpired code")
	}
}
