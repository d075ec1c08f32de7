//go:build unix

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// changeTime extracts the inode change time where the platform exposes it.
func changeTime(info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
}
