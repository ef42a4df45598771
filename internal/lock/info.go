package lock

import (
	"encoding/json"
	"os"
	"strconv"
	"syscall"
	"time"
)

// Info describes the holder of a lock.
type Info struct {
	User     string    `json:"user"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
	PID      int       `json:"pid"`
	Command  string    `json:"command,omitempty"`
}

// NewInfo describes the current process.
func NewInfo(command string) *Info {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return &Info{
		User:     user,
		Hostname: hostname,
		Started:  time.Now(),
		PID:      os.Getpid(),
		Command:  command,
	}
}

// Age returns how long ago the lock was acquired.
func (i *Info) Age() time.Duration {
	return time.Since(i.Started)
}

// Marshal serializes the Info to JSON.
func (i *Info) Marshal() ([]byte, error) {
	return json.Marshal(i)
}

// ParseInfo deserializes an info file.
func ParseInfo(data []byte) (*Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// String returns a human-readable description of the holder.
func (i *Info) String() string {
	s := i.User + "@" + i.Hostname + " (pid " + strconv.Itoa(i.PID)
	if i.Command != "" {
		s += ", " + i.Command
	}
	if !i.Started.IsZero() {
		s += ", up " + i.Age().Round(time.Second).String()
	}
	return s + ")"
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
