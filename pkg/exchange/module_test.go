package exchange

import (
	"path/filepath"
	"testing"

	"github.com/cfoust/strata/pkg/store"
	"github.com/cfoust/strata/pkg/terrain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument() *terrain.Document {
	return &terrain.Document{
		Terrains: []terrain.Portable{
			{
				ID: 2,
				Config: terrain.Config{
					Name:        "Lava",
					Icon:        terrain.DEFAULT_ICON,
					Color:       "#ff4400",
					Anchor:      terrain.AnchorFromLayer,
					Offset:      2.5,
					RangeAbove:  10,
					RangeBelow:  -4,
					UserVisible: true,
				},
				Record: store.Snapshot{
					Kind: terrain.KIND,
					Attributes: map[string]any{
						"name":   "Lava",
						"offset": float64(2),
						"tags":   []any{"hot", "red"},
						"flags":  map[string]any{"hidden": true},
					},
				},
			},
			{
				ID:     3,
				Config: terrain.Config{Name: "Water"},
				Record: store.Snapshot{
					Kind:       terrain.KIND,
					Attributes: map[string]any{"name": "Water"},
				},
			},
		},
		Meta: terrain.Provenance{
			OriginWorld:   "world",
			OriginSystem:  "system",
			CoreVersion:   "11",
			SystemVersion: "2.0.0",
			ModuleVersion: "1.4.0",
		},
	}
}

func TestForPath(t *testing.T) {
	for path, want := range map[string]Codec{
		"a.json":        {Format: FORMAT_JSON},
		"dir/b.YAML":    {Format: FORMAT_YAML},
		"c.yml":         {Format: FORMAT_YAML},
		"d.cbor":        {Format: FORMAT_CBOR},
		"e.json.gz":     {Format: FORMAT_JSON, Compressed: true},
		"f.cbor.gz":     {Format: FORMAT_CBOR, Compressed: true},
		"strata.yml.gz": {Format: FORMAT_YAML, Compressed: true},
	} {
		codec, err := ForPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, codec, path)
	}

	for _, path := range []string{"a.txt", "noext", "x.gz"} {
		_, err := ForPath(path)
		assert.ErrorIs(t, err, ErrUnknownFormat, path)
	}

	assert.Equal(t, ".cbor.gz", Codec{Format: FORMAT_CBOR, Compressed: true}.Extension())
}

func TestRoundTrip(t *testing.T) {
	for _, path := range []string{
		"t.json", "t.yaml", "t.cbor",
		"t.json.gz", "t.yaml.gz", "t.cbor.gz",
	} {
		codec, err := ForPath(path)
		require.NoError(t, err)

		data, err := codec.Encode(testDocument())
		require.NoError(t, err, path)

		document, err := codec.Decode(data)
		require.NoError(t, err, path)
		assert.Equal(t, testDocument(), document, path)
	}
}

func TestEmptyUpload(t *testing.T) {
	_, err := JSON.Decode(nil)
	assert.ErrorIs(t, err, terrain.ErrMissingUpload)

	_, err = Codec{Format: FORMAT_YAML}.Decode([]byte("  \n"))
	assert.ErrorIs(t, err, terrain.ErrMissingUpload)

	compressed, err := Compress(nil)
	require.NoError(t, err)
	_, err = Codec{Format: FORMAT_JSON, Compressed: true}.Decode(compressed)
	assert.ErrorIs(t, err, terrain.ErrMissingUpload)

	_, err = JSON.Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.yaml.gz")

	require.NoError(t, WriteFile(path, testDocument()))
	document, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testDocument(), document)

	assert.ErrorIs(t, WriteFile(filepath.Join(dir, "x.txt"), testDocument()), ErrUnknownFormat)
	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "strata-terrains.json", Filename("strata"))
	assert.Equal(t, "strata-terrain-deep-water-2.json", TerrainFilename("strata", "  Deep Water #2!"))
	assert.Equal(t, "strata-terrain-unnamed.json", TerrainFilename("strata", "***"))
	assert.Equal(t, "lava", Slug("Lava"))
}
