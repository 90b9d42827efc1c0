package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the canonical version of the commissions service
// This should be the single source of truth for all version references
const Version = "1.0.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}

// MinCompatibleVersion is the oldest client API version the server accepts
// (clients advertise their version via the X-Client-Version header)
const MinCompatibleVersion = "0.9.0"

// CheckClientVersion reports whether a client-advertised version is
// compatible with this server. Empty versions are accepted; malformed
// versions are rejected.
func CheckClientVersion(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}

	cv, err := semver.NewVersion(clientVersion)
	if err != nil {
		return fmt.Errorf("invalid client version %q: %w", clientVersion, err)
	}

	minVersion := semver.MustParse(MinCompatibleVersion)
	if cv.LessThan(minVersion) {
		return fmt.Errorf("client version %s is older than minimum supported %s", clientVersion, MinCompatibleVersion)
	}

	return nil
}
