package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
)

func TestMemoryStoreBasicOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	if store.Driver() != DriverMemory {
		t.Errorf("Driver() = %q, want %q", store.Driver(), DriverMemory)
	}

	key := "0123456789ab_1_original.jpg"
	payload := []byte("image bytes")

	info, err := store.Put(ctx, key, bytes.NewReader(payload), PutOptions{ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), PutOptions{}); err == nil {
		t.Fatal("expected duplicate put to fail")
	}

	got, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(b, payload) {
		t.Error("payload round trip failed")
	}
	if got.ContentType != "image/jpeg" {
		t.Errorf("content type = %q", got.ContentType)
	}

	if _, _, err := store.Get(ctx, "0123456789ab_2_original.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}

	existed, err := store.Delete(ctx, key)
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
}

func TestMemoryStoreIsolatesReturnedData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	key := "0123456789ab_1_thumb.png"
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("abc")), PutOptions{
		Metadata: map[string]string{"variant": "thumb"},
	}); err != nil {
		t.Fatal(err)
	}

	head, err := store.Head(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	head.Metadata["variant"] = "mutated"

	again, err := store.Head(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if again.Metadata["variant"] != "thumb" {
		t.Error("stored metadata mutated through returned copy")
	}
}

func TestMemoryStoreConcurrentPuts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)

	for i := range writers {
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("0123456789ab_%d_original.jpg", n+1)
			if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), PutOptions{}); err != nil {
				t.Errorf("put %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != writers {
		t.Errorf("stored %d artifacts, want %d", len(list), writers)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Key >= list[i].Key {
			t.Errorf("list not sorted: %q before %q", list[i-1].Key, list[i].Key)
		}
	}
}
