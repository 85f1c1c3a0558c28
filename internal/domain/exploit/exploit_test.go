package exploit

import "testing"

func TestValidateExactlyOneBody(t *testing.T) {
	neither := Exploit{Name: "e1"}
	if err := neither.Validate(); err == nil {
		t.Fatalf("expected error when neither script nor playbook set")
	}
	both := Exploit{Name: "e2", ScriptBody: "echo hi", PlaybookRef: "site.yml"}
	if err := both.Validate(); err == nil {
		t.Fatalf("expected error when both set")
	}
	onlyScript := Exploit{Name: "e3", ScriptBody: "echo hi"}
	if err := onlyScript.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompatibleWith(t *testing.T) {
	e := Exploit{TargetOS: OSLinux}
	if !e.CompatibleWith(OSLinux) {
		t.Fatalf("expected linux exploit compatible with linux target")
	}
	if e.CompatibleWith(OSWindows) {
		t.Fatalf("expected linux exploit incompatible with windows target")
	}
	any := Exploit{TargetOS: OSAny}
	if !any.CompatibleWith(OSWindows) {
		t.Fatalf("expected OSAny to match every target")
	}
}
