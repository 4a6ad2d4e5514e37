package media

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		ct   string
		kind Kind
	}{
		{"photo.JPG", "image/jpeg", Image},
		{"photo.jpeg", "image/jpeg", Image},
		{"icon.Svg", "image/svg+xml", Image},
		{"anim.gif", "image/gif", Image},
		{"clip.MOV", "video/quicktime", Video},
		{"clip.mkv", "video/x-matroska", Video},
		{"clip.webm", "video/webm", Video},
		{"notes.txt", "", Unknown},
		{"noext", "", Unknown},
	}
	for _, tc := range cases {
		ct, kind := Classify(tc.name)
		if ct != tc.ct || kind != tc.kind {
			t.Errorf("Classify(%q) = (%q, %v), want (%q, %v)", tc.name, ct, kind, tc.ct, tc.kind)
		}
	}
}

func TestContentType_Fallbacks(t *testing.T) {
	if got := ContentType("clip.xyz", Video); got != "video/mp4" {
		t.Errorf("video fallback: got %q, want video/mp4", got)
	}
	if got := ContentType("pic.xyz", Image); got != "image/jpeg" {
		t.Errorf("image fallback: got %q, want image/jpeg", got)
	}
	if got := ContentType("blob.xyz", Unknown); got != "application/octet-stream" {
		t.Errorf("unknown fallback: got %q, want application/octet-stream", got)
	}
	// A recognised extension always wins over the served kind.
	if got := ContentType("photo.png", Video); got != "image/png" {
		t.Errorf("extension match: got %q, want image/png", got)
	}
}

func TestKindFlags(t *testing.T) {
	if k := KindFromFlags(true, true); k != Video {
		t.Errorf("both flags: got %v, want video", k)
	}
	if k := KindFromFlags(false, false); k != Unknown {
		t.Errorf("no flags: got %v, want unknown", k)
	}
	img, vid := Image.Flags()
	if !img || vid {
		t.Errorf("Image.Flags() = (%v, %v)", img, vid)
	}
	if Video.String() != "video" || Image.String() != "image" || Unknown.String() != "unknown" {
		t.Error("unexpected Kind.String values")
	}
}
