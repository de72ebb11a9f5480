package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	perr "github.com/spritepal/previewcache/pkg/errors"
)

func writeROM(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sfc")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestGenerate tests a full preview block read
func TestGenerate(t *testing.T) {
	rom := writeROM(t, 64*1024)
	g := New()

	data, err := g.Generate(context.Background(), rom, 0x2000)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if data.Width != previewSide || data.Height != previewSide {
		t.Errorf("expected %dx%d preview, got %dx%d", previewSide, previewSide, data.Width, data.Height)
	}
	if len(data.TileData) != bytesPerBlock {
		t.Errorf("expected %d tile bytes, got %d", bytesPerBlock, len(data.TileData))
	}
	if data.Image == nil {
		t.Fatal("expected a rendered image")
	}
	if got := data.Image.Bounds().Dx(); got != previewSide {
		t.Errorf("image width %d does not match preview side", got)
	}
	if data.Offset != 0x2000 || data.Source != rom {
		t.Errorf("preview identity mismatch: %s @ 0x%x", data.Source, data.Offset)
	}
}

// TestGenerateShortRead tests padding at end of file
func TestGenerateShortRead(t *testing.T) {
	rom := writeROM(t, 1024)
	g := New()

	data, err := g.Generate(context.Background(), rom, 512)
	if err != nil {
		t.Fatalf("Generate should tolerate a short read: %v", err)
	}
	if len(data.TileData) != 512 {
		t.Errorf("tile data should hold only the bytes actually read, got %d", len(data.TileData))
	}
	if n, _ := data.Metadata["bytes_read"].(int); n != 512 {
		t.Errorf("expected bytes_read 512, got %v", data.Metadata["bytes_read"])
	}
}

// TestGenerateMissingFile tests the typed I/O failure
func TestGenerateMissingFile(t *testing.T) {
	g := New()
	_, err := g.Generate(context.Background(), "/nonexistent/rom.sfc", 0)
	if err == nil {
		t.Fatal("expected an error for a missing source")
	}
	if perr.TypeOf(err) != perr.TypeFileIO {
		t.Errorf("expected FILE_IO, got %s", perr.TypeOf(err))
	}
}

// TestGenerateCancelledContext tests early abandonment
func TestGenerateCancelledContext(t *testing.T) {
	rom := writeROM(t, 1024)
	g := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, rom, 0)
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if perr.TypeOf(err) != perr.TypeCancelled {
		t.Errorf("expected CANCELLED, got %s", perr.TypeOf(err))
	}
}
