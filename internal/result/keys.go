package result

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// UUIDLayout formats run identities. Lexical order of formatted values equals
// chronological order, which history and closest-in-time lookups rely on.
const UUIDLayout = "2006-01-02T15:04:05.000000"

const (
	jsonExt          = ".json"
	latestFile       = "latest" + jsonExt
	primaryFile      = "primary" + jsonExt
	actionRecordsDir = "action_records/"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// NewUUID formats t in UTC as a run identity.
func NewUUID(t time.Time) string {
	return t.UTC().Format(UUIDLayout)
}

// ParseUUID parses a run identity back into a UTC time.
func ParseUUID(uuid string) (time.Time, error) {
	return time.ParseInLocation(UUIDLayout, uuid, time.UTC)
}

// ErrInvalidUUID reports a caller-supplied run identity that is not an ISO
// 8601 timestamp.
var ErrInvalidUUID = errors.New("invalid run uuid")

// uuidLayouts are the accepted spellings of a caller-supplied uuid. The
// fraction is optional, so isoformat() output without microseconds parses.
var uuidLayouts = []string{
	UUIDLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// NormalizeUUID parses uuid in any accepted form and returns it in
// UUIDLayout, so every stored run lands under a key history can parse.
func NormalizeUUID(uuid string) (string, error) {
	if uuid == "" || strings.Contains(uuid, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUUID, uuid)
	}
	for _, layout := range uuidLayouts {
		if t, err := time.ParseInLocation(layout, uuid, time.UTC); err == nil {
			return NewUUID(t), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidUUID, uuid)
}

// NormalizeKwargsUUID rewrites kwargs.uuid in place in UUIDLayout. A missing,
// null or empty uuid is left for StoreResult to assign.
func NormalizeKwargsUUID(kw types.Kwargs) error {
	v, ok := kw[types.KwargUUID]
	if !ok || v == nil {
		return nil
	}
	s, isString := v.(string)
	if !isString {
		return fmt.Errorf("%w: %v", ErrInvalidUUID, v)
	}
	if s == "" {
		delete(kw, types.KwargUUID)
		return nil
	}
	n, err := NormalizeUUID(s)
	if err != nil {
		return err
	}
	kw[types.KwargUUID] = n
	return nil
}

// Prefix is the namespace holding every key of one check or action.
func Prefix(name string) string { return name + "/" }

// HistoryKey is the write-once key of a single run.
func HistoryKey(name, uuid string) string { return Prefix(name) + uuid + jsonExt }

// LatestKey holds the most recent run of name.
func LatestKey(name string) string { return Prefix(name) + latestFile }

// PrimaryKey holds the most recent run of name flagged primary.
func PrimaryKey(name string) string { return Prefix(name) + primaryFile }

// ActionRecordKey marks that an action already ran for the check run checkUUID.
func ActionRecordKey(checkName, checkUUID string) string {
	return Prefix(checkName) + actionRecordsDir + checkUUID
}

// historyUUID extracts the run identity from a history key under name. It
// reports false for latest, primary, action records and anything else that
// does not parse as a timestamped entry.
func historyUUID(name, key string) (string, time.Time, bool) {
	rest, ok := strings.CutPrefix(key, Prefix(name))
	if !ok || strings.Contains(rest, "/") {
		return "", time.Time{}, false
	}
	uuid, ok := strings.CutSuffix(rest, jsonExt)
	if !ok {
		return "", time.Time{}, false
	}
	t, err := ParseUUID(uuid)
	if err != nil {
		return "", time.Time{}, false
	}
	return uuid, t, true
}
