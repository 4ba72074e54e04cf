package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// defaultConfigYAML is written by EnsureDefault on first run. Values mirror
// setDefaults; the file exists so operators have something to edit.
const defaultConfigYAML = `# quarry configuration
postgres_host: localhost
postgres_port: 5432
postgres_user: quarry
postgres_db_name: quarry
postgres_ssl_mode: disable

queue:
  max_attempts: 3
  backoff_base: 30s
  lease_timeout: 5m

worker:
  count: 2
  poll_interval: 1s
  reclaim_interval: 30s
  fetches_per_second: 2.0

embedder_model: gemini-embedding-001
embedder_dimension: 768

server_addr: 127.0.0.1:3500
`

// EnsureDefault writes the default config file to ~/.quarry/config.yaml if it
// does not already exist. The write is guarded with a file lock so concurrent
// CLI invocations cannot interleave partial writes.
//
// Returns the config file path.
func EnsureDefault() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "config.yaml")

	lock := flock.New(filepath.Join(dir, ".config.lock"))
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("locking config file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(path); err == nil {
		return path, nil // already exists, leave operator edits alone
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o600); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}
