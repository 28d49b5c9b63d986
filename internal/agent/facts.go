package agent

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func osVersion() string {
	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		return strings.TrimSpace(string(data))
	}
	return runtime.GOOS
}

func hardwareSummary() string {
	return fmt.Sprintf("%s/%s, %d cpu", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
}
