// Package snapshotcodec encodes vault snapshots as zstd-compressed JSON.
package snapshotcodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/klauspost/compress/zstd"
)

// Extension is the file suffix used for exported and archived snapshots.
const Extension = ".json.zst"

var ErrEmptySnapshot = errors.New("snapshot has no vault row")

// Write streams snap to w.
func Write(w io.Writer, snap *models.Snapshot) error {
	if snap == nil || snap.Vault == nil {
		return ErrEmptySnapshot
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}

	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("could not encode json to zstd writer: %w", err)
	}
	return zw.Close()
}

// Read decodes one snapshot from r.
func Read(r io.Reader) (*models.Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zr.Close()

	var snap models.Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("could not decode json from zstd reader: %w", err)
	}
	if snap.Vault == nil {
		return nil, ErrEmptySnapshot
	}
	if snap.Credentials == nil {
		snap.Credentials = []*models.Credential{}
	}
	return &snap, nil
}

func Encode(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(b []byte) (*models.Snapshot, error) {
	return Read(bytes.NewReader(b))
}
