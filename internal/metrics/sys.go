package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// SysHealth is a point-in-time view of the process and its local storage.
type SysHealth struct {
	AllocMB      uint64 `json:"allocMb"`
	SysMB        uint64 `json:"sysMb"`
	NumGC        uint32 `json:"numGc"`
	Goroutines   int    `json:"goroutines"`
	DatabaseSize string `json:"databaseSize"`
}

// GetSysHealth collects runtime stats and the on-disk size of the SQLite
// database at dbPath, including its WAL and shared-memory files. An empty
// dbPath (Postgres backend) reports "n/a".
func GetSysHealth(dbPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	size := "n/a"
	if dbPath != "" {
		size = formatBytes(databaseBytes(dbPath))
	}

	return SysHealth{
		AllocMB:      m.Alloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DatabaseSize: size,
	}
}

func databaseBytes(dbPath string) int64 {
	matches, _ := filepath.Glob(dbPath + "*")
	var size int64
	for _, p := range matches {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			size += info.Size()
		}
	}
	return size
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
