// Package exploit defines the unit of injectable configuration applied by
// the Mission Engine.
package exploit

// Type enumerates exploit categories.
type Type string

const (
	TypeWeb        Type = "web"
	TypeNetwork    Type = "network"
	TypePrivesc    Type = "privesc"
	TypeCredential Type = "credential"
	TypeMisconfig  Type = "misconfig"
	TypeAD         Type = "ad"
	TypeCustom     Type = "custom"
)

// Severity classifies how impactful the injected vulnerability is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// OSFamily enumerates the target operating system families exploits and
// VMs are classified under.
type OSFamily string

const (
	OSLinux   OSFamily = "linux"
	OSWindows OSFamily = "windows"
	OSAny     OSFamily = "any"
)

// Exploit is the unit of injectable configuration: a stable name, exactly
// one of {script body, playbook reference}, and metadata used for
// OS-compatibility checks and reporting.
type Exploit struct {
	Name         string
	Type         Type
	Severity     Severity
	TargetOS     OSFamily
	ScriptBody   string // mutually exclusive with PlaybookRef
	PlaybookRef  string // mutually exclusive with ScriptBody
	Variables    map[string]string
	CVE          string
	FatalOnFail  bool
}

// Validate enforces the "exactly one of script body or playbook reference"
// invariant.
func (e Exploit) Validate() error {
	hasScript := e.ScriptBody != ""
	hasPlaybook := e.PlaybookRef != ""
	if hasScript == hasPlaybook {
		return &InvalidExploitError{Name: e.Name}
	}
	return nil
}

// CompatibleWith reports whether this exploit's target OS family matches
// the observed family, per spec.md §4.8. OSAny matches everything.
func (e Exploit) CompatibleWith(observed OSFamily) bool {
	return e.TargetOS == OSAny || e.TargetOS == observed
}

// InvalidExploitError reports an exploit with zero or both of
// {ScriptBody, PlaybookRef} set.
type InvalidExploitError struct {
	Name string
}

func (e *InvalidExploitError) Error() string {
	return "exploit " + e.Name + " must set exactly one of script body or playbook reference"
}
