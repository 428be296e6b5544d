// Package portcheck diagnoses "address already in use" bind errors by
// best-effort identifying the process already holding the port, per
// spec.md §8's BindError diagnostic. The capability-interface-over-raw
// exec.Command idiom is grounded on
// joestump-claude-ops/internal/session/runner.go's ProcessRunner: a small
// interface so tests can substitute a fake instead of shelling out.
package portcheck

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// OwnerFinder looks up the process bound to a TCP port, if any.
type OwnerFinder interface {
	FindOwner(ctx context.Context, port int) (pid int, processName string, ok bool)
}

// SystemFinder implements OwnerFinder by shelling out to the platform's
// native port-inspection tool: `lsof` on darwin/linux, `netstat` on
// windows. Best-effort only — a missing tool or parse failure yields
// ok=false, never an error, since this is a diagnostic nicety layered on
// top of the bind error, not something the caller should fail on.
type SystemFinder struct{}

// FindOwner shells out to find whatever process is bound to port.
func (SystemFinder) FindOwner(ctx context.Context, port int) (pid int, processName string, ok bool) {
	switch runtime.GOOS {
	case "windows":
		return findOwnerWindows(ctx, port)
	default:
		return findOwnerUnix(ctx, port)
	}
}

func findOwnerUnix(ctx context.Context, port int) (int, string, bool) {
	out, err := exec.CommandContext(ctx, "lsof", "-n", "-P", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN").Output()
	if err != nil {
		return 0, "", false
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return 0, "", false
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 2 {
		return 0, "", false
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", false
	}
	return pid, fields[0], true
}

func findOwnerWindows(ctx context.Context, port int) (int, string, bool) {
	out, err := exec.CommandContext(ctx, "netstat", "-ano", "-p", "TCP").Output()
	if err != nil {
		return 0, "", false
	}
	needle := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, needle) || !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			continue
		}
		return pid, "", true
	}
	return 0, "", false
}

// Describe returns a human-readable "likely owner" suffix for a bind
// error message, or "" if no owner could be identified.
func Describe(ctx context.Context, finder OwnerFinder, port int) string {
	pid, name, ok := finder.FindOwner(ctx, port)
	if !ok {
		return ""
	}
	if name == "" {
		return fmt.Sprintf(" (likely owned by pid %d)", pid)
	}
	return fmt.Sprintf(" (likely owned by %s, pid %d)", name, pid)
}
