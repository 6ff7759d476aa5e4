// Package archive ships encoded snapshots off the box so an operator can
// recover a vault even if the database is lost.
package archive

import (
	"context"
	"fmt"
	"time"
)

// Archiver stores an encoded snapshot body and returns the key it was stored under.
type Archiver interface {
	Archive(ctx context.Context, vaultID, snapshotID string, createdAt time.Time, body []byte) (string, error)
}

// Key builds the object key for a snapshot.
func Key(vaultID, snapshotID string, createdAt time.Time) string {
	d := createdAt.UTC()
	return fmt.Sprintf("snapshots/%s/%04d/%02d/%02d/%s.json.zst", vaultID, d.Year(), int(d.Month()), d.Day(), snapshotID)
}

// Nop is used when no bucket is configured.
type Nop struct{}

func (Nop) Archive(context.Context, string, string, time.Time, []byte) (string, error) {
	return "", nil
}
