package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Records arrive from the store as untyped JSON trees. Each entity has an
// explicit decoder that validates required fields and fills defaults.

func decodeRecord(raw any, out any) error {
	if _, ok := raw.(map[string]any); !ok {
		return fmt.Errorf("%w: expected object, got %T", ErrInvalid, raw)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DecodeCollection flattens a keyed collection. Collections written with
// sequential keys may come back as arrays; nil slots are skipped.
func DecodeCollection(raw any) map[string]any {
	out := make(map[string]any)
	switch v := raw.(type) {
	case map[string]any:
		for key, value := range v {
			if value != nil {
				out[key] = value
			}
		}
	case []any:
		for i, value := range v {
			if value != nil {
				out[strconv.Itoa(i)] = value
			}
		}
	}
	return out
}

func DecodeQueueItem(key string, raw any) (QueueItem, error) {
	var item QueueItem
	if err := decodeRecord(raw, &item); err != nil {
		return QueueItem{}, fmt.Errorf("queue item %s: %w", key, err)
	}
	item.Key = key

	if strings.TrimSpace(item.Song.Path) == "" {
		return QueueItem{}, fmt.Errorf("queue item %s: %w: missing song path", key, ErrInvalid)
	}
	if strings.TrimSpace(item.Singer.Name) == "" {
		return QueueItem{}, fmt.Errorf("queue item %s: %w: missing singer name", key, ErrInvalid)
	}
	return item, nil
}

// DecodeQueue decodes every queue item and reports the keys it had to skip.
func DecodeQueue(raw any) (items []QueueItem, invalid []string) {
	for key, value := range DecodeCollection(raw) {
		item, err := DecodeQueueItem(key, value)
		if err != nil {
			invalid = append(invalid, key)
			continue
		}
		items = append(items, item)
	}
	return items, invalid
}

func DecodeHistoryEntry(key string, raw any) (HistoryEntry, error) {
	var entry HistoryEntry
	if err := decodeRecord(raw, &entry); err != nil {
		return HistoryEntry{}, fmt.Errorf("history entry %s: %w", key, err)
	}
	entry.Key = key

	if strings.TrimSpace(entry.Path) == "" {
		return HistoryEntry{}, fmt.Errorf("history entry %s: %w: missing path", key, ErrInvalid)
	}
	if entry.Count <= 0 {
		entry.Count = 1
	}
	return entry, nil
}

func DecodeHistory(raw any) (entries []HistoryEntry, invalid []string) {
	for key, value := range DecodeCollection(raw) {
		entry, err := DecodeHistoryEntry(key, value)
		if err != nil {
			invalid = append(invalid, key)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, invalid
}

func DecodeSinger(key string, raw any) (Singer, error) {
	var singer Singer
	if err := decodeRecord(raw, &singer); err != nil {
		return Singer{}, fmt.Errorf("singer %s: %w", key, err)
	}
	singer.Key = key

	if strings.TrimSpace(singer.Name) == "" {
		return Singer{}, fmt.Errorf("singer %s: %w: missing name", key, ErrInvalid)
	}
	return singer, nil
}

func DecodeFavorite(key string, raw any) (FavoriteEntry, error) {
	var fav FavoriteEntry
	if err := decodeRecord(raw, &fav); err != nil {
		return FavoriteEntry{}, fmt.Errorf("favorite %s: %w", key, err)
	}
	fav.Key = key

	if strings.TrimSpace(fav.Path) == "" {
		return FavoriteEntry{}, fmt.Errorf("favorite %s: %w: missing path", key, ErrInvalid)
	}
	return fav, nil
}

func DecodeDisabled(key string, raw any) (DisabledEntry, error) {
	var entry DisabledEntry
	if err := decodeRecord(raw, &entry); err != nil {
		return DisabledEntry{}, fmt.Errorf("disabled song %s: %w", key, err)
	}
	entry.Key = key

	if strings.TrimSpace(entry.Path) == "" {
		return DisabledEntry{}, fmt.Errorf("disabled song %s: %w: missing path", key, ErrInvalid)
	}
	return entry, nil
}

func DecodeSong(key string, raw any) (SongRef, error) {
	var song SongRef
	if err := decodeRecord(raw, &song); err != nil {
		return SongRef{}, fmt.Errorf("song %s: %w", key, err)
	}
	if strings.TrimSpace(song.Path) == "" {
		return SongRef{}, fmt.Errorf("song %s: %w: missing path", key, ErrInvalid)
	}
	return song, nil
}

// DecodeTopPlayed accepts both the array form and a keyed map. Entries keep
// the order they were stored in when the array form is used.
func DecodeTopPlayed(raw any) []TopPlayedEntry {
	var values []any
	switch v := raw.(type) {
	case []any:
		values = v
	case map[string]any:
		for _, key := range SortedKeys(v) {
			values = append(values, v[key])
		}
	}

	entries := make([]TopPlayedEntry, 0, len(values))
	for i, value := range values {
		if value == nil {
			continue
		}
		var entry TopPlayedEntry
		if err := decodeRecord(value, &entry); err != nil {
			continue
		}
		if entry.Key == "" {
			entry.Key = strconv.Itoa(i)
		}
		entries = append(entries, entry)
	}
	return entries
}

func DecodeSettings(raw any) PlayerSettings {
	var settings PlayerSettings
	if raw == nil {
		return settings
	}
	if err := decodeRecord(raw, &settings); err != nil {
		return PlayerSettings{}
	}
	return settings
}

// DecodePlayerState returns PlayerStopped for anything that is not a known state.
func DecodePlayerState(raw any) PlayerState {
	s, ok := raw.(string)
	if !ok {
		return PlayerStopped
	}
	state := PlayerState(s)
	if !state.Valid() {
		return PlayerStopped
	}
	return state
}
