package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills in secrets that must exist but need not be
// configured, currently just the JWT signing secret. The returned map names
// the generated keys so the caller can log the fact without the values.
// A generated secret is process-local: tokens stop validating on restart,
// which is acceptable for development and wrong for multi-node deployments.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		buf := make([]byte, jwtSecretBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = hex.EncodeToString(buf)
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}
