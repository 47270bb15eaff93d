// Package identity mints provisional identifiers for entities created locally
// and classifies identifiers as provisional or canonical.
package identity

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks identifiers the remote backend has never seen.
const ProvisionalPrefix = "local_"

// Mint returns a process-unique provisional identifier: the prefix, the current
// Unix time in milliseconds and a random suffix.
func Mint() string {
	return mintAt(time.Now())
}

func mintAt(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return ProvisionalPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}

// IsProvisional reports whether id was minted locally.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}
