package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// A nil logger mutes output instead of panicking.
	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestDebugf(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetVerbose(false)
	}()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	SetVerbose(false)
	Debugf("cycle %d", 1)
	if len(got) != 0 {
		t.Errorf("Debugf logged while quiet: %v", got)
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() = false after SetVerbose(true)")
	}
	Debugf("cycle %d", 2)
	if len(got) != 1 || got[0] != "cycle 2" {
		t.Errorf("Debugf output = %v, want [cycle 2]", got)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}
