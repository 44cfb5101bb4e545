package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	l := New(2, time.Minute)
	if !l.Allow("client-a", "/ingest") {
		t.Fatal("expected first request to be allowed")
	}
	if !l.Allow("client-a", "/ingest") {
		t.Fatal("expected second request to be allowed")
	}
	if l.Allow("client-a", "/ingest") {
		t.Fatal("expected third request to exceed budget")
	}
}

func TestAllowIsolatesPaths(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("client-a", "/ingest") {
		t.Fatal("expected /ingest to be allowed")
	}
	if !l.Allow("client-a", "/analyze") {
		t.Fatal("expected /analyze to have its own budget")
	}
}

func TestAllowIsolatesClients(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("client-a", "/ingest") {
		t.Fatal("expected client-a to be allowed")
	}
	if !l.Allow("client-b", "/ingest") {
		t.Fatal("expected client-b to have its own budget")
	}
}
