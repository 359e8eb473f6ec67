package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFileName     = "enc.key"
	keyInfoFileName = "enc.keyinfo"
)

// EncryptionKeys is the AES-128 material for one rendition.
type EncryptionKeys struct {
	Key         []byte
	IV          []byte
	KeyPath     string
	KeyInfoPath string
}

// writeEncryptionKeys generates a fresh key and IV for a rendition and writes
// the key file plus an ffmpeg key-info file into dir. keyURI is what players
// fetch, written as the first key-info line.
func writeEncryptionKeys(dir, keyURI string) (*EncryptionKeys, error) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	keys := &EncryptionKeys{
		Key:         key,
		IV:          iv,
		KeyPath:     filepath.Join(dir, keyFileName),
		KeyInfoPath: filepath.Join(dir, keyInfoFileName),
	}

	if err := os.WriteFile(keys.KeyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	info := fmt.Sprintf("%s\n%s\n%s\n", keyURI, keys.KeyPath, hex.EncodeToString(iv))
	if err := os.WriteFile(keys.KeyInfoPath, []byte(info), 0o600); err != nil {
		return nil, fmt.Errorf("write key info: %w", err)
	}
	return keys, nil
}
