package item

import (
	"fmt"
	"strings"
)

// Instance is the channel dimension partitioning the item set. Only one
// instance is reconciled at a time.
type Instance string

const (
	Instagram Instance = "instagram"
	Facebook  Instance = "fbig"
	TikTok    Instance = "tiktok"
)

var Instances = []Instance{Instagram, Facebook, TikTok}

// ParseInstance accepts the storage keys and the "facebook" display name.
func ParseInstance(s string) (Instance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instagram":
		return Instagram, nil
	case "fbig", "facebook":
		return Facebook, nil
	case "tiktok":
		return TikTok, nil
	}
	return "", fmt.Errorf("unknown instance %q", s)
}

// DisplayName is the name shown in the UI.
func (i Instance) DisplayName() string {
	if i == Facebook {
		return "facebook"
	}
	return string(i)
}
