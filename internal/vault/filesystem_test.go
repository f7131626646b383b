package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestNewFileSystemVault(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "vault")

	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root not created: %v", err)
	}
	if err := v.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}

func TestFileSystemVault_Put(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		data    string
		size    int64
		wantErr bool
	}{
		{name: "nested key", key: "deletions/1.json", data: `{"journal_id":1}`, size: 16},
		{name: "empty object", key: "empty", data: "", size: 0},
		{name: "size mismatch", key: "short.json", data: "hello", size: 100, wantErr: true},
		{name: "absolute key", key: "/etc/passwd", data: "x", size: 1, wantErr: true},
		{name: "escaping key", key: "deletions/../../x", data: "x", size: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			v, err := NewFileSystemVault("test", root)
			if err != nil {
				t.Fatalf("NewFileSystemVault() error = %v", err)
			}

			err = v.Put(tt.key, strings.NewReader(tt.data), tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Put() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				keys, err := v.List("")
				if err != nil {
					t.Fatalf("List() error = %v", err)
				}
				if len(keys) != 0 {
					t.Errorf("failed Put left objects behind: %v", keys)
				}
				return
			}

			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(tt.key)))
			if err != nil {
				t.Fatalf("object file missing: %v", err)
			}
			if string(data) != tt.data {
				t.Errorf("stored %q, want %q", data, tt.data)
			}
		})
	}
}

func TestFileSystemVault_PutOverwrites(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	for _, data := range []string{"first", "second!"} {
		if err := v.Put("k.json", strings.NewReader(data), int64(len(data))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	var buf bytes.Buffer
	if err := v.Get("k.json", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "second!" {
		t.Errorf("Get() = %q, want %q", buf.String(), "second!")
	}
}

func TestFileSystemVault_GetMissing(t *testing.T) {
	v, err := NewFileSystemVault("test", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.Get("deletions/404.json", &buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileSystemVault_List(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	for _, k := range []string{"deletions/1.json", "deletions/2.json.age", "other/x"} {
		if err := v.Put(k, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}
	// leftover from an interrupted write
	if err := os.WriteFile(filepath.Join(root, "deletions", ".tmp-123"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := v.List("deletions/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"deletions/1.json", "deletions/2.json.age"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestFileSystemVault_ValidateSetup_NotDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root, []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() expected error when root is a file")
	}
}
