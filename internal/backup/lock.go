package backup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/saiverse/memoryweave/pkg/weaveerr"
)

// acquireLock takes the process-wide advisory backup lock at path, retrying
// for up to waitSec before giving up. It writes "pid=<pid> ts=<rfc3339>" into
// the lock file so a later caller can detect and recover from a stale lock
// left behind by a crashed process, grounded on
// original_source/sai_memory/backup.py's _global_backup_lock/_check_stale_lock.
func acquireLock(path string, waitSec int) (release func(), err error) {
	deadline := time.Now().Add(time.Duration(waitSec) * time.Second)

	for {
		checkStaleLock(path)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "pid=%d ts=%s", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, weaveerr.TransientIO(err, "create backup lock %s", path)
		}
		if time.Now().After(deadline) {
			return nil, weaveerr.Conflict("another backup appears to be running; timed out waiting for lock %s", path)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// checkStaleLock removes path if it names a pid that is no longer alive.
// Returns true if it removed a stale lock.
func checkStaleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, field := range strings.Fields(string(data)) {
		pidStr, ok := strings.CutPrefix(field, "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			return false
		}
		if !isProcessAlive(pid) {
			os.Remove(path)
			return true
		}
		return false
	}
	return false
}

// isProcessAlive sends the null signal, which only checks for existence and
// permission without actually signaling the process.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
