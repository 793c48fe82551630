package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRoleAliases(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"macro", RoleMacro, true},
		{"eco", RoleMacro, true},
		{" Firm ", RoleFirm, true},
		{"house", RoleHousehold, true},
		{"household", RoleHousehold, true},
		{"combined", "", false},
		{"gov", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseRole(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseRole(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseRolesDropsUnknownAndDuplicates(t *testing.T) {
	got := ParseRoles([]string{"house", "eco", "macro", "x", "firm"})
	want := []Role{RoleHousehold, RoleMacro, RoleFirm}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAllowedPathsAreCanonical(t *testing.T) {
	if len(AllowedPaths) != 7 {
		t.Fatalf("expected 7 allowed paths, got %d", len(AllowedPaths))
	}
	for _, p := range AllowedPaths {
		last := -1
		for _, r := range p {
			idx := RolePath(CanonicalOrder).Index(r)
			if idx <= last {
				t.Errorf("path %v is not in canonical order", p)
			}
			last = idx
		}
	}
}

func TestNormalizePathAlwaysAllowed(t *testing.T) {
	inputs := [][]Role{
		nil,
		{RoleCombined},
		{RoleHousehold, RoleMacro},
		{RoleFirm, RoleFirm, RoleMacro},
		{RoleHousehold, RoleFirm, RoleMacro},
		{RoleCombined, RoleFirm},
		{"unknown", RoleHousehold},
	}
	for _, in := range inputs {
		got := NormalizePath(in)
		if !got.IsAllowed() {
			t.Errorf("NormalizePath(%v) = %v is not allowed", in, got)
		}
	}
}

func TestNormalizePathReorders(t *testing.T) {
	got := NormalizePath([]Role{RoleHousehold, RoleFirm, RoleFirm})
	if !got.Equal(RolePath{RoleFirm, RoleHousehold}) {
		t.Fatalf("expected [firm household], got %v", got)
	}
	if got := NormalizePath(nil); !got.Equal(RolePath{RoleMacro}) {
		t.Fatalf("expected [macro] default, got %v", got)
	}
}

func TestParseModeAndDefault(t *testing.T) {
	if m, ok := ParseMode("parallel"); !ok || m != ModeConcurrent {
		t.Errorf("expected explicit parallel, got %q %v", m, ok)
	}
	if m, ok := ParseMode("sequential"); !ok || m != ModeChained {
		t.Errorf("expected explicit sequential, got %q %v", m, ok)
	}
	if _, ok := ParseMode("auto"); ok {
		t.Errorf("auto must not be explicit")
	}
	if DefaultMode(RolePath{RoleMacro}) != ModeConcurrent {
		t.Errorf("single role path should default to concurrent")
	}
	if DefaultMode(RolePath{RoleMacro, RoleFirm}) != ModeChained {
		t.Errorf("multi role path should default to chained")
	}
}

func TestNewQuery(t *testing.T) {
	if _, err := NewQuery("   \n\t "); err == nil {
		t.Fatalf("expected error for blank query")
	}
	q, err := NewQuery("  GDP가 뭐야  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.String() != "GDP가 뭐야" {
		t.Errorf("expected trimmed query, got %q", q)
	}
	long, err := NewQuery(strings.Repeat("가", MaxQueryRunes+50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len([]rune(long.String())); n != MaxQueryRunes {
		t.Errorf("expected %d runes, got %d", MaxQueryRunes, n)
	}
}

func TestAdapterForCoversGeneratingRoles(t *testing.T) {
	seen := map[AdapterName]bool{}
	for _, r := range CanonicalOrder {
		name := AdapterFor(r)
		if name == "" {
			t.Errorf("role %s has no adapter", r)
		}
		if seen[name] {
			t.Errorf("adapter %s assigned twice", name)
		}
		seen[name] = true
	}
	if AdapterFor(RoleCombined) != "" {
		t.Errorf("combined role must not have an adapter")
	}
}

func TestDefaultProfiles(t *testing.T) {
	p := DefaultProfiles()
	if p.Title(RoleMacro) != "거시 핵심" {
		t.Errorf("unexpected macro title %q", p.Title(RoleMacro))
	}
	if p.Title(RoleCombined) != "통합 해석" {
		t.Errorf("unexpected combined title %q", p.Title(RoleCombined))
	}
	if p.Profile(RoleHousehold).Persona == "" {
		t.Errorf("household persona missing")
	}
}

func TestParseProfilesRejectsIncomplete(t *testing.T) {
	_, err := ParseProfiles([]byte("roles:\n  macro:\n    persona: a\n    title: b\n"))
	if err == nil {
		t.Fatalf("expected error for missing roles")
	}
}

func TestCardsFromDraftsCapped(t *testing.T) {
	drafts := make([]Draft, 6)
	for i := range drafts {
		drafts[i] = Draft{Role: RoleMacro, Title: "t", Content: "c", Confidence: 0.7}
	}
	if got := CardsFromDrafts(drafts); len(got) != MaxCards {
		t.Fatalf("expected %d cards, got %d", MaxCards, len(got))
	}
}

func TestHealthRegistryCheckAll(t *testing.T) {
	reg := NewHealthRegistry(time.Second)
	reg.Register("generation", HealthCheckFunc(func(context.Context) error { return nil }))
	reg.Register("evidence", HealthCheckFunc(func(context.Context) error { return errors.New("connection refused") }))
	reg.Register("history", StaticHealthChecker{Status: HealthOK, Message: "memory"})

	results, overall := reg.CheckAll(context.Background())
	if overall != HealthDegraded {
		t.Errorf("expected degraded overall, got %s", overall)
	}
	if results["generation"].Status != HealthOK {
		t.Errorf("expected generation ok")
	}
	if res := results["evidence"]; res.Status != HealthDegraded || res.Message != "connection refused" {
		t.Errorf("unexpected evidence result: %+v", res)
	}
	if _, err := reg.Check(context.Background(), "missing"); err == nil {
		t.Errorf("expected error for unknown checker")
	}
}

func TestHealthCheckBoundedByTimeout(t *testing.T) {
	reg := NewHealthRegistry(20 * time.Millisecond)
	reg.Register("slow", HealthCheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	res, err := reg.Check(context.Background(), "slow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != HealthDegraded {
		t.Errorf("expected degraded after timeout, got %s", res.Status)
	}
}
