package seed

import (
	"context"
	"testing"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
)

type fakeSeeder struct {
	saved []exploit.Exploit
}

func (f *fakeSeeder) SeedExploit(ctx context.Context, e exploit.Exploit) error {
	f.saved = append(f.saved, e)
	return nil
}

func TestLoadParsesEmbeddedManifest(t *testing.T) {
	exploits, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(exploits) == 0 {
		t.Fatalf("expected at least one seed exploit")
	}
	for _, e := range exploits {
		if err := e.Validate(); err != nil {
			t.Fatalf("manifest exploit %s is invalid: %v", e.Name, err)
		}
	}
}

func TestApplySeedsEveryManifestEntry(t *testing.T) {
	store := &fakeSeeder{}
	n, err := Apply(context.Background(), store)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != len(store.saved) {
		t.Fatalf("expected %d seeded, got %d", n, len(store.saved))
	}
}
