package util

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Fingerprint returns the hex md5 of a byte stream.
func Fingerprint(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SettingsID names a settings value by the md5 of its JSON form, shaped
// as a UUID so equal settings log the same id across sessions.
func SettingsID(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("settings id: %w", err)
	}
	sum := md5.Sum(raw)
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		return "", fmt.Errorf("settings id: %w", err)
	}
	return id.String(), nil
}
