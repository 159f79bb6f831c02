package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv switches both binaries into a no-op startup when truthy.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	testModeFlag.Store(err == nil && on)
}

// InTestMode reports whether the process should skip connecting to postgres,
// redis and the job queue.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads the flag after the environment changed.
func RefreshTestMode() {
	detectTestMode()
}
