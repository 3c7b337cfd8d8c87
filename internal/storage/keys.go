package storage

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SnapshotSuffix ends every snapshot object: snappy-framed Extended JSON lines.
const SnapshotSuffix = ".jsonl.sz"

// Snapshot object metadata, as S3 user metadata.
const (
	snapshotContentType     = "application/x-ndjson"
	snapshotContentEncoding = "x-snappy-framed"
	collectionMetadataKey   = "docrel-collection"
)

// SnapshotPrefix is the directory holding collection's snapshots under root.
// "snapshots", "users" -> "snapshots/users/"
func SnapshotPrefix(root, collection string) string {
	return path.Join(root, collection) + "/"
}

// NewSnapshotKey names a fresh snapshot of collection taken at. Keys of one
// collection sort by time.
func NewSnapshotKey(root, collection string, at time.Time) string {
	return SnapshotPrefix(root, collection) +
		at.UTC().Format("20060102T150405Z") + "-" + uuid.New().String() + SnapshotSuffix
}

// IsSnapshotKey reports whether key names a snapshot object.
func IsSnapshotKey(key string) bool {
	return strings.HasSuffix(key, SnapshotSuffix)
}

// SnapshotCollection returns the collection a snapshot key belongs to.
func SnapshotCollection(key string) (string, bool) {
	if !IsSnapshotKey(key) {
		return "", false
	}
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return "", false
	}
	return path.Base(dir), true
}
