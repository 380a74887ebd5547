package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// ManifestFile is the name of the manifest inside the artifact directory.
const ManifestFile = "manifest.json"

// Manifest describes the artifact files written together.
type Manifest struct {
	CreatedAt    time.Time                `json:"created_at"`
	Origin       Origin                   `json:"origin"`
	FeatureWidth int                      `json:"feature_width"`
	Labels       []string                 `json:"labels,omitempty"`
	Entries      map[string]ManifestEntry `json:"entries"`
}

// ManifestEntry records one artifact file.
type ManifestEntry struct {
	File        string `json:"file"`
	Digest      string `json:"digest"`
	InputWidth  int    `json:"input_width"`
	OutputWidth int    `json:"output_width"`
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks data against the manifest entry for role, if any. A file
// with no entry, or an entry for a different file, is accepted.
func (m *Manifest) Verify(role, file string, data []byte) error {
	if m == nil {
		return nil
	}
	e, ok := m.Entries[role]
	if !ok || e.File != file || e.Digest == "" {
		return nil
	}
	if got := Digest(data); got != e.Digest {
		return fmt.Errorf("%s digest mismatch: manifest %s, file %s", file, e.Digest, got)
	}
	return nil
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
