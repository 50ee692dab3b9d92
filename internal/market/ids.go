package market

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMarketID returns "m_" followed by the creation time in milliseconds and
// eight hex characters of a random UUID. Collisions are possible in theory;
// no uniqueness check is made against the collection.
func NewMarketID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "m_" + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}

const userIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewUserID returns an opaque anonymous identifier of the form
// "user_xxxxxxxx" using lowercase base-36 characters.
func NewUserID() string {
	var buf [8]byte
	// crypto/rand.Read never returns an error since Go 1.24.
	_, _ = rand.Read(buf[:])
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = userIDAlphabet[int(b)%len(userIDAlphabet)]
	}
	return "user_" + string(out)
}
