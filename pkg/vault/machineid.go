package vault

import (
	"fmt"
	"os"
	"os/user"
)

// machineIdentity combines hostname and OS user, namespaced by application,
// so the derived master key is stable across restarts on the same machine.
func machineIdentity() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	if username == "" {
		username = os.Getenv("USER")
	}
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = "unknown-user"
	}

	return fmt.Sprintf("trading-journal-%s-%s", hostname, username)
}
