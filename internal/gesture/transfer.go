package gesture

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

const (
	MIMEItem   = "application/x-cadence-item"
	MIMEText   = "text/plain"
	MIMEOrigin = "application/x-cadence-origin"
)

// Transfer is the data carried by a native drag.
type Transfer interface {
	SetData(format, data string)
	GetData(format string) string
	Types() []string
}

// MapTransfer is an in-memory Transfer.
type MapTransfer map[string]string

func (m MapTransfer) SetData(format, data string) { m[format] = data }

func (m MapTransfer) GetData(format string) string { return m[format] }

func (m MapTransfer) Types() []string {
	types := make([]string, 0, len(m))
	for format := range m {
		types = append(types, format)
	}
	sort.Strings(types)
	return types
}

var bareID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// DecodeItemID recovers the dragged item id. It prefers the dedicated
// payload, then text/plain, then anything that parses as an id. An
// empty result means the drop carries no item.
func DecodeItemID(t Transfer) string {
	if t == nil {
		return ""
	}
	if id := strings.TrimSpace(t.GetData(MIMEItem)); id != "" {
		return id
	}
	if id := decodePayload(t.GetData(MIMEText)); id != "" {
		return id
	}
	for _, format := range t.Types() {
		if format == MIMEItem || format == MIMEText || format == MIMEOrigin {
			continue
		}
		if id := decodePayload(t.GetData(format)); id != "" {
			return id
		}
	}
	return ""
}

func decodePayload(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "{") {
		var fields map[string]any
		if err := json.Unmarshal([]byte(s), &fields); err != nil {
			return ""
		}
		for _, key := range []string{"id", "itemId"} {
			if id := strings.TrimSpace(cast.ToString(fields[key])); id != "" && bareID.MatchString(id) {
				return id
			}
		}
		return ""
	}
	if rest, ok := strings.CutPrefix(s, "item:"); ok {
		rest = strings.TrimSpace(rest)
		if bareID.MatchString(rest) {
			return rest
		}
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		if id := u.Query().Get("id"); bareID.MatchString(id) {
			return id
		}
		return ""
	}
	if bareID.MatchString(s) {
		return s
	}
	return ""
}
