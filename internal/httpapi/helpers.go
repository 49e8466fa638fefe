package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func queryInt(r *http.Request, key string, def, max int) (int, error) {
	raw := queryString(r, key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	if n > max {
		n = max
	}
	return n, nil
}

// queryTime parses an RFC3339 timestamp; ok is false when the key is absent.
func queryTime(r *http.Request, key string) (t time.Time, ok bool, err error) {
	raw := queryString(r, key)
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s must be an RFC3339 timestamp", key)
	}
	return t, true, nil
}
