package isolate

import "testing"

func TestTruncate(t *testing.T) {
	short := "hello"
	if got := truncate(short, 10); got != short {
		t.Errorf("truncate(short) = %q, want unchanged", got)
	}

	long := "0123456789abcdef"
	got := truncate(long, 8)
	want := "01234567... (truncated at 8 bytes)"
	if got != want {
		t.Errorf("truncate(long, 8) = %q, want %q", got, want)
	}
}

func TestCommandResult_DefaultZeroValue(t *testing.T) {
	var r CommandResult
	if r.ExitCodeKnown {
		t.Error("zero-value CommandResult should report ExitCodeKnown=false")
	}
}
