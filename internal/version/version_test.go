package version

import "testing"

func TestParsedFallsBackToDevVersion(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = ""
	if got := Parsed(); got.String() != "0.0.0-dev" {
		t.Fatalf("Parsed() = %v, want 0.0.0-dev", got)
	}

	Version = "not-a-semver"
	if got := Parsed(); got.String() != "0.0.0-dev" {
		t.Fatalf("Parsed() on garbage input = %v, want 0.0.0-dev", got)
	}
}

func TestParsedAcceptsLeadingV(t *testing.T) {
	saved := Version
	defer func() { Version = saved }()

	Version = "v1.2.3"
	got := Parsed()
	if got.Major != 1 || got.Minor != 2 || got.Patch != 3 {
		t.Fatalf("Parsed(%q) = %v, want 1.2.3", Version, got)
	}
}

func TestStringOmitsBranchCommitWhenUnstamped(t *testing.T) {
	savedV, savedB, savedC := Version, Branch, Commit
	defer func() { Version, Branch, Commit = savedV, savedB, savedC }()

	Version, Branch, Commit = "1.0.0", "", ""
	if got, want := String(), "1.0.0"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	Branch, Commit = "main", "abc123"
	if got, want := String(), "1.0.0 (main@abc123)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
