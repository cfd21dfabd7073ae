package utils

import (
	"runtime"
	"testing"
)

func TestEnableDisableRuntimeProfiling(t *testing.T) {
	EnableRuntimeProfiling()
	t.Cleanup(DisableRuntimeProfiling)

	if runtime.SetMutexProfileFraction(-1) != 1 {
		t.Error("expected mutex profiling fraction to be 1 after EnableRuntimeProfiling")
	}

	DisableRuntimeProfiling()
	if runtime.SetMutexProfileFraction(-1) != 0 {
		t.Error("expected mutex profiling fraction to be 0 after DisableRuntimeProfiling")
	}
}
