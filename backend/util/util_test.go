package util

import (
	"testing"

	"github.com/spf13/afero"
)

func TestCopyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/cfg/config.toml", []byte("[Application]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/cfg/config.toml.bak", []byte("stale backup that is longer"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(fs, "/cfg/config.toml", "/cfg/config.toml.bak"); err != nil {
		t.Fatalf("CopyFile() error: %v", err)
	}
	got, err := afero.ReadFile(fs, "/cfg/config.toml.bak")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[Application]\n" {
		t.Errorf("copied content = %q", got)
	}

	if err := CopyFile(fs, "/cfg/missing.toml", "/cfg/x"); err == nil {
		t.Error("CopyFile() of a missing file succeeded")
	}
}
