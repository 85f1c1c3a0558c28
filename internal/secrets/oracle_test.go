package secrets

import (
	"context"
	"errors"
	"testing"
)

func TestEnvProviderGetSecret(t *testing.T) {
	t.Setenv("RANGE_VCENTER_PASSWORD", "hunter2")
	p := EnvProvider{Prefix: "RANGE_"}

	got, err := p.GetSecret(context.Background(), "vcenter-password")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if string(got) != "hunter2" {
		t.Fatalf("got %q, want hunter2", got)
	}
}

func TestEnvProviderNotFound(t *testing.T) {
	p := EnvProvider{Prefix: "RANGE_"}
	if _, err := p.GetSecret(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

type countingOracle struct {
	calls int
	value []byte
	err   error
}

func (c *countingOracle) GetSecret(ctx context.Context, name string) ([]byte, error) {
	c.calls++
	return c.value, c.err
}

func TestCachingOracleCachesAfterFirstLookup(t *testing.T) {
	backing := &countingOracle{value: []byte("secret-value")}
	cache := NewCachingOracle(backing)

	for i := 0; i < 3; i++ {
		v, err := cache.GetSecret(context.Background(), "api-key")
		if err != nil {
			t.Fatalf("get secret: %v", err)
		}
		if string(v) != "secret-value" {
			t.Fatalf("unexpected value: %s", v)
		}
	}
	if backing.calls != 1 {
		t.Fatalf("expected backing oracle to be called once, got %d", backing.calls)
	}
}

func TestCachingOraclePropagatesError(t *testing.T) {
	backing := &countingOracle{err: errors.New("boom")}
	cache := NewCachingOracle(backing)
	if _, err := cache.GetSecret(context.Background(), "x"); err == nil {
		t.Fatalf("expected error to propagate")
	}
}
