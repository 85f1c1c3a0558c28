// Package seed loads the embedded exploit library manifest into the
// Persisted Store at `rangectl init` time.
package seed

import (
	"context"
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/errs"
)

//go:embed exploits.yaml
var manifest []byte

// manifestExploit mirrors exploit.Exploit's JSON/YAML shape with snake_case
// field names matching the manifest file.
type manifestExploit struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"`
	Severity    string            `yaml:"severity"`
	TargetOS    string            `yaml:"target_os"`
	ScriptBody  string            `yaml:"script_body"`
	PlaybookRef string            `yaml:"playbook_ref"`
	Variables   map[string]string `yaml:"variables"`
	CVE         string            `yaml:"cve"`
	FatalOnFail bool              `yaml:"fatal_on_fail"`
}

type manifestFile struct {
	Exploits []manifestExploit `yaml:"exploits"`
}

// Seeder is the narrow Persisted Store contract seeding writes through.
type Seeder interface {
	SeedExploit(ctx context.Context, e exploit.Exploit) error
}

// Load parses the embedded manifest into domain Exploit values.
func Load() ([]exploit.Exploit, error) {
	var f manifestFile
	if err := yaml.Unmarshal(manifest, &f); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse embedded exploit manifest", err)
	}

	out := make([]exploit.Exploit, 0, len(f.Exploits))
	for _, m := range f.Exploits {
		out = append(out, exploit.Exploit{
			Name: m.Name, Type: exploit.Type(m.Type), Severity: exploit.Severity(m.Severity),
			TargetOS: exploit.OSFamily(m.TargetOS), ScriptBody: m.ScriptBody, PlaybookRef: m.PlaybookRef,
			Variables: m.Variables, CVE: m.CVE, FatalOnFail: m.FatalOnFail,
		})
	}
	return out, nil
}

// Apply loads the embedded manifest and seeds every entry into store,
// validating each one first so a malformed manifest entry fails fast with
// its offending exploit name rather than corrupting the library silently.
func Apply(ctx context.Context, store Seeder) (int, error) {
	exploits, err := Load()
	if err != nil {
		return 0, err
	}

	for _, e := range exploits {
		if err := e.Validate(); err != nil {
			return 0, errs.Wrap(errs.ConfigInvalid, "invalid seed exploit "+e.Name, err)
		}
		if err := store.SeedExploit(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(exploits), nil
}
