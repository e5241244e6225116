package storage

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ParseUUID parses a UUID string into uuid.UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// UUIDToBytes returns the 16-byte representation of a uuid.UUID.
func UUIDToBytes(u uuid.UUID) []byte {
	return u[:]
}

const instanceIDFile = "instance.id"

// loadOrCreateInstanceID gives a DB a stable identity across restarts:
// it reads <dataDir>/instance.id (16 raw bytes per UUIDToBytes) if
// present, otherwise mints a fresh uuid.New() and persists it via
// UUIDToBytes. This is purely a log/catalog correlation aid (spec.md
// carries no contract on InstanceID's value), so a write failure here
// is not fatal to opening the database.
func loadOrCreateInstanceID(dataDir string) uuid.UUID {
	path := filepath.Join(dataDir, instanceIDFile)
	if raw, err := os.ReadFile(path); err == nil && len(raw) == 16 {
		if id, err := uuid.FromBytes(raw); err == nil {
			return id
		}
	}
	id := uuid.New()
	_ = os.WriteFile(path, UUIDToBytes(id), 0o644)
	return id
}
