package listener

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Epoch values at or above this magnitude are milliseconds.
const millisThreshold = 1e11

// ParseTime coerces a timestamp-like snapshot value. It accepts
// time.Time, {seconds,nanoseconds} maps (with or without a leading
// underscore), epoch seconds or milliseconds as numbers or numeric
// strings, and date strings in the layouts cast understands. Anything
// else yields fallback.
func ParseTime(value any, fallback time.Time) time.Time {
	switch v := value.(type) {
	case nil:
		return fallback
	case time.Time:
		return v.UTC()
	case *time.Time:
		if v == nil {
			return fallback
		}
		return v.UTC()
	case map[string]any:
		if t, ok := timestampMap(v); ok {
			return t
		}
		return fallback
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fallback
		}
		return fromEpoch(f, fallback)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return fallback
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f, fallback)
		}
		t, err := cast.ToTimeE(s)
		if err != nil {
			return fallback
		}
		return t.UTC()
	case bool:
		return fallback
	default:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return fallback
		}
		return fromEpoch(f, fallback)
	}
}

func timestampMap(m map[string]any) (time.Time, bool) {
	secondsValue, ok := m["seconds"]
	if !ok {
		secondsValue, ok = m["_seconds"]
	}
	if !ok {
		return time.Time{}, false
	}
	seconds, err := cast.ToInt64E(secondsValue)
	if err != nil {
		return time.Time{}, false
	}
	nanosValue, ok := m["nanoseconds"]
	if !ok {
		nanosValue = m["_nanoseconds"]
	}
	nanos := cast.ToInt64(nanosValue)
	return time.Unix(seconds, nanos).UTC(), true
}

func fromEpoch(f float64, fallback time.Time) time.Time {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fallback
	}
	if f >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
