package badger

import (
	"strings"
	"time"

	"github.com/joseph-ayodele/docqueue/internal/repository"
)

const (
	jobPrefix     = "job:"
	pendingPrefix = "pending:"
	createdPrefix = "created:"
)

func jobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

// pendingKey orders pending jobs by creation time for FIFO claims.
func pendingKey(createdAt time.Time, id string) []byte {
	return []byte(pendingPrefix + repository.FormatTime(createdAt) + ":" + id)
}

// createdKey orders every job by creation time for listings.
func createdKey(createdAt time.Time, id string) []byte {
	return []byte(createdPrefix + repository.FormatTime(createdAt) + ":" + id)
}

// idFromIndexKey returns the job id suffix of an index key.
func idFromIndexKey(key []byte) string {
	s := string(key)
	return s[strings.LastIndexByte(s, ':')+1:]
}

// prefixEnd is the smallest key greater than every key with prefix, used to seek in reverse.
func prefixEnd(prefix string) []byte {
	return append([]byte(prefix), 0xFF)
}
