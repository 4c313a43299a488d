package domain

import (
	"math/rand"
	"strconv"
)

// anonymousBase places synthetic ids far above any real user id so an
// unauthenticated presence connection can be tracked without collisions.
const anonymousBase int64 = 1 << 60

// AnonymousID returns a random synthetic user id in the reserved high range.
func AnonymousID() int64 {
	return anonymousBase + rand.Int63n(1<<30)
}

// IsAnonymous reports whether id belongs to the synthetic range.
func IsAnonymous(id int64) bool {
	return id >= anonymousBase
}

// PresenceEvent is the payload pushed to subscribers when a publisher's
// online state changes: {"<user_id>": <online>}.
func PresenceEvent(userID int64, online bool) map[string]bool {
	return map[string]bool{strconv.FormatInt(userID, 10): online}
}
