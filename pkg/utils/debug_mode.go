package utils

import "runtime"

// EnableRuntimeProfiling turns on Go's block and mutex profiling counters.
// cmd/fs9 calls this at startup when server.enable_profiling is set, so an
// operator can later pull /debug/pprof/block and /debug/pprof/mutex from a
// misbehaving instance without a restart.
func EnableRuntimeProfiling() {
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
}

// DisableRuntimeProfiling turns the counters back off; cmd/fs9 calls this
// after a clean shutdown completes.
func DisableRuntimeProfiling() {
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
}
