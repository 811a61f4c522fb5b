package poller

import (
	"testing"

	"go.uber.org/goleak"
)

// The poller owns a ticker goroutine per instance; every test must end with
// Stop having reaped it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
