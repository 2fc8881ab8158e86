// Package identity derives the stable identifiers carried in the handshake.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// AgentIDLength is the length of an agent ID in hex characters.
const AgentIDLength = 32

// agentDomainKey keys the BLAKE3 hash so agent IDs never collide with
// hashes computed over the same bytes for other purposes.
var agentDomainKey = [32]byte{
	'l', 'o', 'g', 'l', 'i', 'n', 'e', '.', 'a', 'g', 'e', 'n', 't', '.', 'i', 'd',
}

// AgentID returns a fixed-length hex identifier for a device/file pair.
// Deterministic: the same inputs always produce the same ID.
// A NUL separates the inputs so ("ab", "c") and ("a", "bc") differ.
func AgentID(deviceID, filePath string) string {
	h, err := blake3.NewKeyed(agentDomainKey[:])
	if err != nil {
		// Only reachable with a key of the wrong length.
		panic(fmt.Sprintf("blake3 keyed hasher: %v", err))
	}
	_, _ = h.Write([]byte(deviceID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(filePath))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:AgentIDLength/2])
}

// hostnameFunc is swapped in tests.
var hostnameFunc = os.Hostname

// ResolveDeviceID returns explicit when set, otherwise the host name.
func ResolveDeviceID(explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	host, err := hostnameFunc()
	if err != nil {
		return "", fmt.Errorf("resolve hostname: %w", err)
	}
	if host == "" {
		return "", errors.New("resolve hostname: empty host name")
	}
	return host, nil
}
