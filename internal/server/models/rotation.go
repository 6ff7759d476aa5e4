package models

import "time"

// RotationState is a state of the master-key rotation state machine.
type RotationState string

const (
	RotationIdle                RotationState = "idle"
	RotationBackingUp           RotationState = "backing_up"
	RotationReKeying            RotationState = "re_keying"
	RotationCommitting          RotationState = "committing"
	RotationRestoring           RotationState = "restoring"
	RotationFailedUnrecoverable RotationState = "failed_unrecoverable"
)

// RotationAttempt exists only while a rotation is in flight.
type RotationAttempt struct {
	ID        string
	State     RotationState
	StartedAt time.Time
}

// RotationStatus is a read-only view of a vault's rotation state.
type RotationStatus struct {
	VaultID            string        `json:"vaultId"`
	State              RotationState `json:"state"`
	AttemptID          string        `json:"attemptId,omitempty"`
	StartedAt          *time.Time    `json:"startedAt,omitempty"`
	LastGoodSnapshotID string        `json:"lastGoodSnapshotId,omitempty"`
}
