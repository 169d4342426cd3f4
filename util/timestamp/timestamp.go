// Package timestamp provides the wall-clock source used for every
// created/last-modified field persisted on disk by bitfs: the superblock's
// created/modified pair and each inode's created/last_modified pair. All
// of those fields are seconds since the Unix epoch (spec.md §3).
package timestamp

import (
	"os"
	"strconv"
	"time"
)

// GetTime returns the current time in UTC, honoring SOURCE_DATE_EPOCH if
// set. SOURCE_DATE_EPOCH is a Unix timestamp used for reproducible builds
// and reproducible test fixtures. If SOURCE_DATE_EPOCH is not set or
// invalid, it returns time.Now().UTC().
func GetTime() time.Time {
	if epoch := os.Getenv("SOURCE_DATE_EPOCH"); epoch != "" {
		if ts, err := strconv.ParseInt(epoch, 10, 64); err == nil {
			return time.Unix(ts, 0).UTC()
		}
	}

	return time.Now().UTC()
}

// Now returns the current time as seconds since the Unix epoch, the
// on-disk representation spec.md mandates for every timestamp field.
func Now() uint64 {
	return uint64(GetTime().Unix())
}
