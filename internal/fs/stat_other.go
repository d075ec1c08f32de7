//go:build !unix

package fs

import (
	"io/fs"
	"time"
)

// changeTime falls back to the modification time on platforms without an
// inode change time.
func changeTime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
