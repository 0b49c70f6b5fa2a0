// Package preview resolves reply references into renderable previews and
// handles forward fanout validation.
package preview

import (
	"net/url"
	"strings"

	"github.com/gsouza97/converse/internal/store"
)

// Preview is what the reply banner renders for a referenced message.
type Preview struct {
	Kind      store.MessageType
	Label     string
	IsDeleted bool
	IsLink    bool // Label is a bare URL, render with link styling
}

// typeLabels maps non-text message types to their short preview labels.
var typeLabels = map[store.MessageType]string{
	store.TypeImage: "Image",
	store.TypeVideo: "Video",
	store.TypeAudio: "Audio",
	store.TypeFile:  "File",
}

// Resolve maps a parent reference to its preview. A tombstoned parent
// short-circuits: the preview reports deletion but keeps the kind so the
// banner can still show what used to be there.
func Resolve(ref *store.ParentRef) Preview {
	if ref == nil {
		return Preview{}
	}
	if ref.IsDeleted {
		return Preview{Kind: ref.Type, IsDeleted: true}
	}
	if ref.Type == store.TypeText {
		return Preview{
			Kind:   store.TypeText,
			Label:  ref.Content,
			IsLink: isBareURL(ref.Content),
		}
	}
	return Preview{Kind: ref.Type, Label: typeLabels[ref.Type]}
}

// ResolveMessage builds the preview for replying to a live message.
func ResolveMessage(m *store.Message) Preview {
	if m == nil {
		return Preview{}
	}
	if m.Type == store.TypeText {
		return Preview{
			Kind:   store.TypeText,
			Label:  m.Content,
			IsLink: isBareURL(m.Content),
		}
	}
	return Preview{Kind: m.Type, Label: typeLabels[m.Type]}
}

// isBareURL reports whether s is a single absolute http(s) URL.
func isBareURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
