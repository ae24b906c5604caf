package iploc

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOpen_EmptyPathDisables(t *testing.T) {
	r, err := Open("")
	if err != nil || r != nil {
		t.Fatalf("Open(\"\") = %v, %v", r, err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")); err == nil {
		t.Fatal("missing database must fail")
	}
}

func TestLocate_BadIP(t *testing.T) {
	r := &Reader{}
	for _, ip := range []string{"", "not-an-ip", "300.1.1.1"} {
		if _, _, err := r.Locate(ip); !errors.Is(err, ErrNoLocation) {
			t.Errorf("Locate(%q) err = %v", ip, err)
		}
	}
}
