package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Error messages
	"error.generic":           "Something went wrong. Please try again.",
	"error.not_found":         "That no longer exists. Someone may have changed it already.",
	"error.duplicate":         "That is already there.",
	"error.store_unavailable": "The party database is unreachable. Please try again.",
	"error.timeout":           "That took too long. Please try again.",
	"error.invalid":           "The request is invalid.",
	"error.disabled":          "This song has been disabled for the party.",
	"error.rate_limited":      "Slow down! Too many requests in the last minute.",
	"error.party_id":          "%s is not a valid party name.",
	"error.queue_empty":       "The queue is empty.",

	// Success messages
	"success.enqueued":        "%s is up at position %d with %s.",
	"success.dequeued":        "Removed %s from the queue.",
	"success.reordered":       "Queue reordered.",
	"success.singer_joined":   "Welcome, %s!",
	"success.singer_left":     "%s left the party.",
	"success.favorite_added":  "Added %s to favorites.",
	"success.song_disabled":   "%s can no longer be requested.",
	"success.song_enabled":    "%s can be requested again.",
	"success.now_playing":     "Now singing: %s with %s.",
	"success.top_recomputed":  "Top played list rebuilt with %d songs.",

	// Format helpers
	"format.song": "%s - %s",
}
