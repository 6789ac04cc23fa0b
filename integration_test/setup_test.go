package integration_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Common test constants
const (
	TestTimeout      = 60 * time.Second
	ShortTestTimeout = 10 * time.Second
)

var (
	buildOnce  sync.Once
	binaryPath string
	buildErr   error
	buildDir   string
)

// TestMain builds the binary once for the whole suite.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "songhost-it-")
	if err != nil {
		panic(err)
	}
	buildDir = dir

	exitCode := m.Run()

	os.RemoveAll(buildDir)
	os.Exit(exitCode)
}

// buildCLIBinary compiles cmd/ into a temporary binary.
func buildCLIBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration tests build the binary")
	}
	buildOnce.Do(func() {
		binaryPath = filepath.Join(buildDir, "songhost-test")
		cmd := exec.Command("go", "build", "-o", binaryPath, "../cmd")
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = err
			binaryPath = string(out)
		}
	})
	if buildErr != nil {
		t.Fatalf("Failed to build CLI binary: %v\n%s", buildErr, binaryPath)
	}
	return binaryPath
}

func setupTestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
