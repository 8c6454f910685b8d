package attach

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalPutOpenDelete(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	ref, err := store.Put(ctx, "draft v1.pdf", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(ref, "/\\ ") {
		t.Fatalf("ref %q should be a flat sanitized name", ref)
	}
	rc, err := store.Open(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, ref); !errors.Is(err, ErrNotExist) {
		t.Fatalf("second delete: got %v, want ErrNotExist", err)
	}
	if _, err := store.Open(ctx, ref); !errors.Is(err, ErrNotExist) {
		t.Fatalf("open after delete: got %v, want ErrNotExist", err)
	}
}

func TestLocalRejectsTraversalRefs(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"", "../escape", "a/b", `a\b`} {
		if err := store.Delete(context.Background(), ref); err == nil {
			t.Fatalf("ref %q should be rejected", ref)
		}
	}
}
