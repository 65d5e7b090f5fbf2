package metrics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"
)

var startedAt = time.Now()

// sqliteSidecars are the journal files SQLite keeps next to the database.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// FileUsage is the on-disk footprint of one storage file.
type FileUsage struct {
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
	Size    string `json:"size"`
	Missing bool   `json:"missing,omitempty"`
}

// SysHealth is the process and storage snapshot shown to admins.
type SysHealth struct {
	HeapMB     uint64    `json:"heapMb"`
	SysMB      uint64    `json:"sysMb"`
	NumGC      uint32    `json:"numGc"`
	Goroutines int       `json:"goroutines"`
	Uptime     string    `json:"uptime"`
	StateFile  FileUsage `json:"stateFile"`
	Database   FileUsage `json:"database"`
}

// GetSysHealth reads the runtime counters and the size of the state file and
// the audit database, journals included.
func GetSysHealth(stateFile, databasePath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SysHealth{
		HeapMB:     m.HeapAlloc >> 20,
		SysMB:      m.Sys >> 20,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(startedAt).Truncate(time.Second).String(),
		StateFile:  usageOf(stateFile),
		Database:   usageOf(databasePath, sqliteSidecars...),
	}
}

func usageOf(path string, suffixes ...string) FileUsage {
	u := FileUsage{Path: path}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		u.Missing = true
	} else if err == nil {
		u.Bytes = info.Size()
	}
	for _, sfx := range suffixes {
		if info, err := os.Stat(path + sfx); err == nil {
			u.Bytes += info.Size()
		}
	}
	u.Size = humanBytes(u.Bytes)
	return u
}

func humanBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
