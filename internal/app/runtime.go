package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv names the variable that keeps binaries from touching Postgres,
// Redis or the network. Any strconv.ParseBool true value enables it.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFromEnv = sync.OnceValue(readTestMode)
	testModeReread  atomic.Pointer[bool]
)

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// InTestMode reports whether cmd entrypoints should return before startup.
func InTestMode() bool {
	if on := testModeReread.Load(); on != nil {
		return *on
	}
	return testModeFromEnv()
}

// RefreshTestMode re-reads TestModeEnv, for tests that change it after start.
func RefreshTestMode() {
	on := readTestMode()
	testModeReread.Store(&on)
}
