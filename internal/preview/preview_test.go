package preview

import (
	"testing"

	"github.com/gsouza97/converse/internal/store"
)

func TestResolveText(t *testing.T) {
	p := Resolve(&store.ParentRef{ID: "m1", Type: store.TypeText, Content: "see you tomorrow"})
	if p.Label != "see you tomorrow" || p.IsDeleted || p.IsLink {
		t.Errorf("preview = %+v", p)
	}
}

func TestResolveMediaLabels(t *testing.T) {
	cases := []struct {
		typ  store.MessageType
		want string
	}{
		{store.TypeImage, "Image"},
		{store.TypeVideo, "Video"},
		{store.TypeAudio, "Audio"},
		{store.TypeFile, "File"},
	}
	for _, tc := range cases {
		p := Resolve(&store.ParentRef{ID: "m1", Type: tc.typ, Content: "blob-url"})
		if p.Label != tc.want {
			t.Errorf("Resolve(%s).Label = %q, want %q", tc.typ, p.Label, tc.want)
		}
	}
}

func TestResolveTombstone(t *testing.T) {
	// Deleted parent: the kind survives but the content must not leak.
	p := Resolve(&store.ParentRef{ID: "m1", Type: store.TypeImage, Content: "blob-url", IsDeleted: true})
	if !p.IsDeleted {
		t.Fatal("IsDeleted = false")
	}
	if p.Kind != store.TypeImage {
		t.Errorf("Kind = %s, want image", p.Kind)
	}
	if p.Label != "" {
		t.Errorf("Label = %q, want empty for deleted parent", p.Label)
	}
}

func TestResolveNil(t *testing.T) {
	if p := Resolve(nil); p != (Preview{}) {
		t.Errorf("Resolve(nil) = %+v, want zero", p)
	}
}

func TestBareURLDetection(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"https://example.com/doc", true},
		{"http://example.com", true},
		{"  https://example.com  ", true},
		{"check https://example.com out", false},
		{"ftp://example.com", false},
		{"https://", false},
		{"just text", false},
	}
	for _, tc := range cases {
		p := Resolve(&store.ParentRef{ID: "m1", Type: store.TypeText, Content: tc.content})
		if p.IsLink != tc.want {
			t.Errorf("IsLink(%q) = %v, want %v", tc.content, p.IsLink, tc.want)
		}
	}
}

func TestResolveMessage(t *testing.T) {
	m := &store.Message{ID: "m1", Type: store.TypeFile, Content: "blob", Name: "report.pdf"}
	if p := ResolveMessage(m); p.Label != "File" {
		t.Errorf("Label = %q, want File", p.Label)
	}
	if p := ResolveMessage(nil); p != (Preview{}) {
		t.Errorf("ResolveMessage(nil) = %+v, want zero", p)
	}
}
