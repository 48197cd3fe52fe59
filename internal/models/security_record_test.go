package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSecurityRecord_Normalize_TruncatesByCharacter(t *testing.T) {
	tests := []struct {
		name      string
		reason    string
		wantRunes int
	}{
		{name: "ascii within limit", reason: strings.Repeat("a", MaxLockReasonLength), wantRunes: MaxLockReasonLength},
		{name: "ascii over limit", reason: strings.Repeat("a", MaxLockReasonLength+10), wantRunes: MaxLockReasonLength},
		{name: "multibyte within limit", reason: strings.Repeat("日", 200), wantRunes: 200},
		{name: "multibyte at limit", reason: strings.Repeat("é", MaxLockReasonLength), wantRunes: MaxLockReasonLength},
		{name: "multibyte over limit", reason: strings.Repeat("日", MaxLockReasonLength+1), wantRunes: MaxLockReasonLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locked, unlocked := tt.reason, tt.reason
			rec := &SecurityRecord{UserID: "u1", LockedReason: &locked, UnlockReason: &unlocked}
			rec.Normalize()

			for field, got := range map[string]string{"LockedReason": *rec.LockedReason, "UnlockReason": *rec.UnlockReason} {
				if !utf8.ValidString(got) {
					t.Errorf("%s is not valid UTF-8 after Normalize", field)
				}
				if n := utf8.RuneCountInString(got); n != tt.wantRunes {
					t.Errorf("%s has %d characters, want %d", field, n, tt.wantRunes)
				}
			}
		})
	}
}

func TestSecurityRecord_Normalize_TruncatesAdminNotesByCharacter(t *testing.T) {
	now := time.Now()
	rec := &SecurityRecord{
		UserID:        "u1",
		AccountLocked: true,
		LockedAt:      &now,
		UnlockRequest: &UnlockRequest{Status: UnlockRequestRejected, AdminNotes: strings.Repeat("é", MaxAdminNotesLength+5)},
	}
	rec.Normalize()

	notes := rec.UnlockRequest.AdminNotes
	if !utf8.ValidString(notes) {
		t.Fatal("AdminNotes is not valid UTF-8 after Normalize")
	}
	if n := utf8.RuneCountInString(notes); n != MaxAdminNotesLength {
		t.Errorf("AdminNotes has %d characters, want %d", n, MaxAdminNotesLength)
	}
}

func TestSecurityRecord_TokenMatches(t *testing.T) {
	token := "a1b2c3"
	tests := []struct {
		name   string
		stored *string
		given  string
		want   bool
	}{
		{name: "match", stored: &token, given: "a1b2c3", want: true},
		{name: "mismatch same length", stored: &token, given: "a1b2c4", want: false},
		{name: "prefix", stored: &token, given: "a1b2", want: false},
		{name: "empty given", stored: &token, given: "", want: false},
		{name: "no stored token", stored: nil, given: "a1b2c3", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &SecurityRecord{UnlockToken: tt.stored}
			if got := rec.TokenMatches(tt.given); got != tt.want {
				t.Errorf("TokenMatches(%q) = %v, want %v", tt.given, got, tt.want)
			}
		})
	}
}
