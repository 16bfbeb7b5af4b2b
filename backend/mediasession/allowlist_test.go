package mediasession

import "testing"

func TestAllowList(t *testing.T) {
	allow := AllowList([]string{"Spotify.exe", " firefox ", "", "org.gnome.Lollypop"})
	tests := []struct {
		id   string
		want bool
	}{
		{"spotify", true},
		{"Spotify.exe", true},
		{"SPOTIFY", true},
		{"firefox", true},
		{"firefox.instance_1_42", true},
		{"firefoxnightly", false},
		{"org.gnome.Lollypop", true},
		{"org.gnome.lollypop", true},
		{"org", false},
		{"vlc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := allow(tt.id); got != tt.want {
			t.Errorf("allow(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestAllowList_Empty(t *testing.T) {
	allow := AllowList([]string{"  "})
	if !allow("anything") {
		t.Error("empty allow-list rejected a source ID")
	}
}
