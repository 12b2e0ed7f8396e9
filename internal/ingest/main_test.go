package ingest

import (
	"testing"

	"go.uber.org/goleak"
)

// Worker goroutines must never outlive IngestVersion, even on failures.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
