package archive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	recordsPrefix    = "records/"
	collisionsPrefix = "collisions/"
	backupsPrefix    = "backups/"

	// stampLayout sorts lexicographically in time order.
	stampLayout = "20060102T150405.000000000Z"
)

// BackupKind tags why a backup copy was written.
type BackupKind string

const (
	// BackupCollision is written when an archive for the year already existed.
	BackupCollision BackupKind = "collision"
	// BackupDeleted holds a record removed by Delete.
	BackupDeleted BackupKind = "deleted"
)

// recordPattern is the only key shape read paths accept. Side files and
// backups live under other prefixes and can never match.
var recordPattern = regexp.MustCompile(`^records/(\d{4})\.json$`)

func recordKey(year int) string { return fmt.Sprintf("%s%04d.json", recordsPrefix, year) }

func collisionKey(year int, at time.Time) string {
	return fmt.Sprintf("%s%04d/%s.json", collisionsPrefix, year, stamp(at))
}

func backupKey(year int, kind BackupKind, at time.Time) string {
	return fmt.Sprintf("%s%04d/%s-%s.json", backupsPrefix, year, kind, stamp(at))
}

func backupDir(year int) string { return fmt.Sprintf("%s%04d/", backupsPrefix, year) }

func stamp(at time.Time) string { return at.UTC().Format(stampLayout) }

// yearFromRecordKey returns the year of a canonical record key.
func yearFromRecordKey(key string) (int, bool) {
	m := recordPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

// backupKindOf extracts the kind from a backups/YYYY/<kind>-<ts>.json key.
func backupKindOf(key string) BackupKind {
	base := key[strings.LastIndex(key, "/")+1:]
	kind, _, ok := strings.Cut(base, "-")
	if !ok {
		return ""
	}
	return BackupKind(kind)
}

// withSuffix disambiguates a key whose timestamp slot is already taken. The
// "_n" form sorts after the unsuffixed key.
func withSuffix(key string, n int) string {
	if n == 0 {
		return key
	}
	return strings.TrimSuffix(key, ".json") + "_" + strconv.Itoa(n) + ".json"
}
