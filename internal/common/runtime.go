package common

import (
	"os"
	"sync"
)

// RuntimeProfile describes the execution environment the process detected at
// startup. Constrained runtimes (serverless sandboxes) get the spooled
// upload path because large in-memory buffers are unreliable there.
type RuntimeProfile struct {
	Constrained bool
	TempDir     string
}

var (
	runtimeProfile     *RuntimeProfile
	runtimeProfileOnce sync.Once
)

// GetRuntimeProfile computes the profile once per process.
func GetRuntimeProfile() *RuntimeProfile {
	runtimeProfileOnce.Do(func() {
		runtimeProfile = detectRuntimeProfile()
	})
	return runtimeProfile
}

func detectRuntimeProfile() *RuntimeProfile {
	constrained := false
	for _, key := range []string{
		"LAMBDA_TASK_ROOT",
		"AWS_LAMBDA_FUNCTION_NAME",
		"AWS_EXECUTION_ENV",
		"AWS_LAMBDA_RUNTIME_API",
	} {
		if os.Getenv(key) != "" {
			constrained = true
			break
		}
	}
	if !constrained {
		if cwd, err := os.Getwd(); err == nil && cwd == "/var/task" {
			constrained = true
		}
	}

	tempDir := os.TempDir()
	if constrained {
		// Serverless filesystems are read-only outside /tmp.
		tempDir = "/tmp"
	}

	return &RuntimeProfile{
		Constrained: constrained,
		TempDir:     tempDir,
	}
}
