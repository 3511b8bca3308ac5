package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.img.lockimg")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Initialize(512); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	return db, path
}

func TestOpenAndInitialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img.lockimg")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	defer db.Close()

	initialized, err := db.IsInitialized()
	if err != nil {
		t.Fatalf("Failed to check initialization: %v", err)
	}
	if initialized {
		t.Error("Fresh catalog should not be initialized")
	}

	if err := db.Initialize(512); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	initialized, err = db.IsInitialized()
	if err != nil {
		t.Fatalf("Failed to check initialization: %v", err)
	}
	if !initialized {
		t.Error("Catalog should be initialized")
	}

	id, err := db.GetImageID()
	if err != nil {
		t.Fatalf("Failed to get image ID: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Image ID %q is not a UUID: %v", id, err)
	}
	if db.Path() != path {
		t.Errorf("Path = %s, want %s", db.Path(), path)
	}
}

func TestKDFParameters(t *testing.T) {
	db, _ := openCatalog(t)

	if _, err := db.GetSalt(); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSalt before SetKDF: err = %v, want ErrNotFound", err)
	}

	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	check := []byte("sealed token")
	if err := db.SetKDF(salt, 1024, check); err != nil {
		t.Fatalf("Failed to set KDF: %v", err)
	}

	gotSalt, err := db.GetSalt()
	if err != nil {
		t.Fatalf("Failed to get salt: %v", err)
	}
	if string(gotSalt) != string(salt) {
		t.Errorf("Salt mismatch: got %v, want %v", gotSalt, salt)
	}

	iters, err := db.GetIterations()
	if err != nil {
		t.Fatalf("Failed to get iterations: %v", err)
	}
	if iters != 1024 {
		t.Errorf("Iterations mismatch: got %d, want 1024", iters)
	}

	gotCheck, err := db.GetPrivate(CheckKey)
	if err != nil {
		t.Fatalf("Failed to get check token: %v", err)
	}
	if string(gotCheck) != string(check) {
		t.Errorf("Check token mismatch: got %q", gotCheck)
	}
}

func TestHeader(t *testing.T) {
	db, _ := openCatalog(t)

	before, err := db.GetModified()
	if err != nil {
		t.Fatalf("Failed to get modified: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := db.SetKDF([]byte("saltsalt"), 2048, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLength(1536); err != nil {
		t.Fatal(err)
	}

	h, err := db.Header()
	if err != nil {
		t.Fatalf("Failed to read header: %v", err)
	}
	if h.Version != formatVersion {
		t.Errorf("Version = %q", h.Version)
	}
	if h.SectorSize != 512 {
		t.Errorf("SectorSize = %d, want 512", h.SectorSize)
	}
	if h.Length != 1536 {
		t.Errorf("Length = %d, want 1536", h.Length)
	}
	if h.Iterations != 2048 || string(h.Salt) != "saltsalt" {
		t.Errorf("KDF = %q/%d", h.Salt, h.Iterations)
	}
	if h.Created.IsZero() || !h.Modified.After(before) {
		t.Errorf("timestamps not maintained: created %v modified %v (before %v)", h.Created, h.Modified, before)
	}
}

func TestExtentOperations(t *testing.T) {
	db, _ := openCatalog(t)

	modTime := time.Now().Truncate(time.Second)
	extents := []Extent{
		{Name: "b.bin", Offset: 1024, Length: 10, Hash: "bb", ModTime: modTime},
		{Name: "a.bin", Offset: 0, Length: 700, Hash: "aa", Source: "/tmp/a.bin", ModTime: modTime},
	}
	for _, e := range extents {
		if err := db.PutExtent(e); err != nil {
			t.Fatalf("Failed to put extent: %v", err)
		}
	}

	list, err := db.ListExtents()
	if err != nil {
		t.Fatalf("Failed to list extents: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 extents, got %d", len(list))
	}
	if list[0].Name != "a.bin" || list[1].Name != "b.bin" {
		t.Errorf("Extents not ordered by offset: %v", list)
	}

	got, err := db.GetExtent("a.bin")
	if err != nil {
		t.Fatalf("Failed to get extent: %v", err)
	}
	if got == nil {
		t.Fatal("Extent should not be nil")
	}
	if got.Source != "/tmp/a.bin" || got.Length != 700 || !got.ModTime.Equal(modTime) {
		t.Errorf("Extent mismatch: %+v", got)
	}

	if err := db.RemoveExtent("a.bin"); err != nil {
		t.Fatalf("Failed to remove extent: %v", err)
	}
	got, err = db.GetExtent("a.bin")
	if err != nil {
		t.Fatalf("Failed to get extent: %v", err)
	}
	if got != nil {
		t.Error("Extent should be nil after removal")
	}

	if err := db.ClearExtents(); err != nil {
		t.Fatalf("Failed to clear extents: %v", err)
	}
	list, err = db.ListExtents()
	if err != nil {
		t.Fatalf("Failed to list extents: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no extents after clear, got %d", len(list))
	}
}

func TestPrivateStorage(t *testing.T) {
	db, _ := openCatalog(t)

	if _, err := db.GetPrivate("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	data := []byte("sealed bytes")
	if err := db.StorePrivate("token", data); err != nil {
		t.Fatalf("Failed to store private bytes: %v", err)
	}

	retrieved, err := db.GetPrivate("token")
	if err != nil {
		t.Fatalf("Failed to get private bytes: %v", err)
	}
	if string(retrieved) != string(data) {
		t.Errorf("Data mismatch: got %v, want %v", retrieved, data)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.img.lockimg")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	if err := db.Initialize(512); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	if err := db.SetKDF([]byte("12345678"), 1024, []byte("check")); err != nil {
		t.Fatal(err)
	}
	if err := db.PutExtent(Extent{Name: "x", Offset: 512, Length: 3, Hash: "h"}); err != nil {
		t.Fatal(err)
	}
	id, _ := db.GetImageID()
	db.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen catalog: %v", err)
	}
	defer db2.Close()

	salt, err := db2.GetSalt()
	if err != nil || string(salt) != "12345678" {
		t.Fatalf("salt not persisted: %q, %v", salt, err)
	}
	id2, _ := db2.GetImageID()
	if id != id2 {
		t.Errorf("image ID changed: %s -> %s", id, id2)
	}
	e, err := db2.GetExtent("x")
	if err != nil || e == nil || e.Offset != 512 {
		t.Errorf("extent not persisted: %+v, %v", e, err)
	}
}

func TestCompact(t *testing.T) {
	db, path := openCatalog(t)

	for i := 0; i < 50; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+i/26))
		if err := db.PutExtent(Extent{Name: name, Offset: int64(i) * 512, Length: 512}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.ClearExtents(); err != nil {
		t.Fatal(err)
	}
	if err := db.PutExtent(Extent{Name: "kept", Length: 1}); err != nil {
		t.Fatal(err)
	}

	if err := db.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path changed after compact: %s", db.Path())
	}

	e, err := db.GetExtent("kept")
	if err != nil || e == nil {
		t.Errorf("extent lost by compact: %v", err)
	}
	if _, err := db.GetImageID(); err != nil {
		t.Errorf("image ID lost by compact: %v", err)
	}
}
