package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

// systemIDFile is the hidden file under the config directory holding
// the anonymous installation identifier.
const systemIDFile = ".system_id"

// systemIDPattern matches the XXXX-XXXX-XXXX hex identifier format.
var systemIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}$`)

// GenerateSystemID creates a new anonymous installation identifier:
// 12 random hex characters grouped as XXXX-XXXX-XXXX. The identifier
// carries no host or user information.
func GenerateSystemID() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategorySystem).
			Context("operation", "generate_system_id").
			Build()
	}

	id := strings.ToUpper(hex.EncodeToString(raw))
	return fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12]), nil
}

// LoadOrCreateSystemID returns the identifier stored in configDir,
// generating and persisting a fresh one when the file is absent or its
// contents do not parse as a system ID.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("operation", "create_config_dir").
			Context("config_dir", configDir).
			Build()
	}

	idFile := filepath.Join(configDir, systemIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); IsValidSystemID(id) {
			return id, nil
		}
		// Unparseable contents fall through to regeneration.
	}

	id, err := GenerateSystemID()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(idFile, []byte(id+"\n"), 0o644); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("operation", "persist_system_id").
			Context("config_dir", configDir).
			Build()
	}

	return id, nil
}

// IsValidSystemID reports whether id has the XXXX-XXXX-XXXX hex format.
func IsValidSystemID(id string) bool {
	return systemIDPattern.MatchString(id)
}
