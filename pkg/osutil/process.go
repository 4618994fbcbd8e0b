// Package osutil holds the small amount of OS-specific process handling gk
// needs: liveness checks for host processes recorded in session state, and
// process-group setup for hook and template subprocesses.
package osutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// maxShellHops bounds the walk past wrapper shells in HostPID.
const maxShellHops = 8

var wrapperShells = map[string]bool{
	"sh": true, "bash": true, "dash": true, "zsh": true, "ksh": true,
	"fish": true, "cmd": true, "pwsh": true, "powershell": true,
}

// IsProcessAlive reports whether a process with the given PID is running.
// Non-positive PIDs are never alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	found, _ := process.PidExists(int32(pid))
	return found
}

// HostPID returns the PID of the host CLI that invoked gk. Hook commands are
// often wrapped in a shell such as `sh -c "gk hook ..."`, so wrapper shells
// between gk and the host are skipped. If the process table cannot be read
// the direct parent is used.
func HostPID() int {
	return skipWrapperShells(os.Getppid())
}

// skipWrapperShells walks from pid up through ancestors that are shells and
// returns the first non-shell process.
func skipWrapperShells(pid int) int {
	for range maxShellHops {
		if pid <= 1 {
			return pid
		}
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			return pid
		}
		name, err := p.Name()
		if err != nil || !isWrapperShell(name) {
			return pid
		}
		ppid, err := p.Ppid()
		if err != nil || ppid <= 0 {
			return pid
		}
		pid = int(ppid)
	}
	return pid
}

func isWrapperShell(name string) bool {
	name = strings.ToLower(filepath.Base(name))
	name = strings.TrimSuffix(name, ".exe")
	return wrapperShells[name]
}
