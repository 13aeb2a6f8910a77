package main

import "testing"

func TestGetExtension(t *testing.T) {
	cases := []struct {
		fileName string
		mimeType string
		want     string
	}{
		{"photo.png", "image/png", ".png"},
		{"archive.tar.gz", "", ".gz"},
		{"noext", "application/pdf", ".pdf"},
		{"", "application/x-no-such-type", ""},
		{"", "", ""},
	}

	for _, tc := range cases {
		if got := getExtension(tc.fileName, tc.mimeType); got != tc.want {
			t.Fatalf("getExtension(%q, %q): expected %q, got %q", tc.fileName, tc.mimeType, tc.want, got)
		}
	}
}
