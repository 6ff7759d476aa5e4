package models

import "time"

// SnapshotOrigin records who took a snapshot.
type SnapshotOrigin string

const (
	SnapshotOriginRotation SnapshotOrigin = "rotation"
	SnapshotOriginManual   SnapshotOrigin = "manual"
)

// Snapshot is a complete point-in-time copy of a vault used only for
// rollback. Credentials include tombstones so a restore is exact.
type Snapshot struct {
	ID          string         `json:"id"`
	VaultID     string         `json:"vaultId"`
	AttemptID   string         `json:"attemptId"`
	Origin      SnapshotOrigin `json:"origin"`
	CreatedAt   time.Time      `json:"createdAt"`
	Vault       *Vault         `json:"vault"`
	Credentials []*Credential  `json:"credentials"`
}

// SnapshotRecord is the persisted form: metadata plus the encoded body.
type SnapshotRecord struct {
	ID        string
	VaultID   string
	AttemptID string
	Origin    SnapshotOrigin
	Body      []byte
	CreatedAt time.Time
}
