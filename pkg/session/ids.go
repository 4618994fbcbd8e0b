package session

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	compositePrefixLength = 8
	subagentIDPrefix      = "sa-"
	subagentIDLength      = 12
)

var (
	hashPrefixPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)
	hostIDPattern     = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ErrInvalidSessionID is returned for IDs that do not have the
// <hash prefix>-<host id> shape.
var ErrInvalidSessionID = errors.New("invalid session id")

// CompositeID joins a project hash and a host session ID. An empty host ID is
// replaced with a fresh UUID.
func CompositeID(projectHash, hostSessionID string) string {
	if hostSessionID == "" {
		hostSessionID = uuid.NewString()
	}
	prefix := projectHash
	if len(prefix) > compositePrefixLength {
		prefix = prefix[:compositePrefixLength]
	}
	return prefix + "-" + hostSessionID
}

// ParseCompositeID splits id into its project hash prefix and host session ID.
func ParseCompositeID(id string) (hashPrefix, hostSessionID string, err error) {
	hashPrefix, hostSessionID, ok := strings.Cut(id, "-")
	if !ok || !hashPrefixPattern.MatchString(hashPrefix) || !hostIDPattern.MatchString(hostSessionID) {
		return "", "", errors.Wrapf(ErrInvalidSessionID, "%q", id)
	}
	return hashPrefix, hostSessionID, nil
}

// NewSubagentID returns a short random sub-agent ID such as sa-1f3c9a0b7d2e.
func NewSubagentID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return subagentIDPrefix + hex[:subagentIDLength]
}

func validAgentID(id string) bool {
	return hostIDPattern.MatchString(id)
}
