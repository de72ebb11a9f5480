// Package generator provides a reference preview generator that renders raw
// 4bpp planar tile data from a file into a grayscale preview image.
package generator

import (
	"context"
	"image"
	"image/color"
	"os"
	"time"

	perr "github.com/spritepal/previewcache/pkg/errors"
	"github.com/spritepal/previewcache/pkg/types"
)

const (
	tileSide      = 8
	bytesPerTile  = 32 // 4 bitplanes, 8 bytes each
	tilesPerRow   = 16
	tileRows      = 16
	previewSide   = tileSide * tilesPerRow
	bytesPerBlock = bytesPerTile * tilesPerRow * tileRows
)

// TileGenerator renders previews by reading raw tile bytes from the source
// file at the requested offset.
type TileGenerator struct{}

// New returns a tile generator.
func New() *TileGenerator {
	return &TileGenerator{}
}

// Generate reads one preview block from source at offset and decodes it.
// A short read at the end of the file is padded with zero tiles.
func (g *TileGenerator) Generate(ctx context.Context, source string, offset uint64) (*types.PreviewData, error) {
	if err := ctx.Err(); err != nil {
		return nil, perr.New(perr.TypeCancelled, "generation abandoned").WithCause(err)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, perr.Newf(perr.TypeFileIO, "cannot open source %s", source).WithCause(err)
	}
	defer f.Close()

	raw := make([]byte, bytesPerBlock)
	n, err := f.ReadAt(raw, int64(offset))
	if n == 0 && err != nil {
		return nil, perr.Newf(perr.TypeFileIO, "cannot read source at offset 0x%x", offset).WithCause(err)
	}
	raw = raw[:bytesPerBlock] // zero padding beyond n

	img := image.NewRGBA(image.Rect(0, 0, previewSide, previewSide))
	for tile := 0; tile < tilesPerRow*tileRows; tile++ {
		decodeTile(raw[tile*bytesPerTile:(tile+1)*bytesPerTile], img,
			(tile%tilesPerRow)*tileSide, (tile/tilesPerRow)*tileSide)
	}

	return &types.PreviewData{
		TileData:    raw[:n],
		Width:       previewSide,
		Height:      previewSide,
		Offset:      offset,
		Source:      source,
		GeneratedAt: time.Now(),
		Image:       img,
		Metadata: map[string]interface{}{
			"tile_format": "4bpp-planar",
			"bytes_read":  n,
		},
	}, nil
}

// decodeTile renders one 8x8 4bpp planar tile as 16-level grayscale at
// (ox, oy) in img.
func decodeTile(tile []byte, img *image.RGBA, ox, oy int) {
	for y := 0; y < tileSide; y++ {
		p0 := tile[y*2]
		p1 := tile[y*2+1]
		p2 := tile[16+y*2]
		p3 := tile[16+y*2+1]
		for x := 0; x < tileSide; x++ {
			bit := uint(7 - x)
			v := (p0>>bit)&1 | ((p1>>bit)&1)<<1 | ((p2>>bit)&1)<<2 | ((p3>>bit)&1)<<3
			g := v * 17
			img.SetRGBA(ox+x, oy+y, color.RGBA{R: g, G: g, B: g, A: 0xff})
		}
	}
}

var _ types.Generator = (*TileGenerator)(nil)
