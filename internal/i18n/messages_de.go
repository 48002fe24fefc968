package i18n

// germanMessages contains all German translations.
var germanMessages = map[string]string{
	// Fehlermeldungen
	"error.generic":           "Etwas ist schiefgelaufen. Bitte versuche es nochmal.",
	"error.not_found":         "Das gibt es nicht mehr. Vielleicht hat es jemand schon geändert.",
	"error.duplicate":         "Das ist schon vorhanden.",
	"error.store_unavailable": "Die Party-Datenbank ist nicht erreichbar. Bitte versuche es nochmal.",
	"error.timeout":           "Das hat zu lange gedauert. Bitte versuche es nochmal.",
	"error.invalid":           "Die Anfrage ist ungültig.",
	"error.disabled":          "Dieser Song ist für die Party gesperrt.",
	"error.rate_limited":      "Langsam! Zu viele Anfragen in der letzten Minute.",
	"error.party_id":          "%s ist kein gültiger Party-Name.",
	"error.queue_empty":       "Die Warteschlange ist leer.",

	// Erfolgsmeldungen
	"success.enqueued":       "%s ist auf Platz %d mit %s.",
	"success.dequeued":       "%s wurde aus der Warteschlange entfernt.",
	"success.reordered":      "Warteschlange neu sortiert.",
	"success.singer_joined":  "Willkommen, %s!",
	"success.singer_left":    "%s hat die Party verlassen.",
	"success.favorite_added": "%s zu den Favoriten hinzugefügt.",
	"success.song_disabled":  "%s kann nicht mehr gewünscht werden.",
	"success.song_enabled":   "%s kann wieder gewünscht werden.",
	"success.now_playing":    "Jetzt singt: %s mit %s.",
	"success.top_recomputed": "Top-Liste mit %d Songs neu erstellt.",

	// Formathilfen
	"format.song": "%s - %s",
}
