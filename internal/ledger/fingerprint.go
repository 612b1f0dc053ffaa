package ledger

import (
	"fmt"
	"os"

	"omzet/internal/config"
	"omzet/internal/fileutil"
)

// Fingerprint describes the current content of path for change detection.
// The mtime mode yields "<size>:<mtime ns>"; the sha256 mode yields
// "sha256:<hex>". Fingerprints from different modes never compare equal, so
// switching modes reprocesses the library once.
func Fingerprint(path, mode string) (string, error) {
	switch mode {
	case config.FingerprintSHA256:
		digest, _, err := fileutil.SHA256(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		return "sha256:" + digest, nil
	case config.FingerprintMTime, "":
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), nil
	default:
		return "", fmt.Errorf("fingerprint %s: unknown mode %q", path, mode)
	}
}
