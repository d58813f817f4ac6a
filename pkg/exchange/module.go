// Package exchange reads and writes terrain documents in the formats a user
// may upload or download.
package exchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode"

	"github.com/cfoust/strata/pkg/store"
	"github.com/cfoust/strata/pkg/terrain"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FORMAT_JSON Format = "json"
	FORMAT_YAML Format = "yaml"
	FORMAT_CBOR Format = "cbor"
)

var (
	ErrUnknownFormat = fmt.Errorf("unknown document format")
)

var cborDecoder cbor.DecMode

func init() {
	var err error
	cborDecoder, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Codec is a document format, optionally gzipped.
type Codec struct {
	Format     Format
	Compressed bool
}

var JSON = Codec{Format: FORMAT_JSON}

// ForPath picks the codec from a file name such as terrains.yaml or
// terrains.cbor.gz.
func ForPath(path string) (Codec, error) {
	name := strings.ToLower(filepath.Base(path))

	var codec Codec
	if strings.HasSuffix(name, ".gz") {
		codec.Compressed = true
		name = strings.TrimSuffix(name, ".gz")
	}

	switch filepath.Ext(name) {
	case ".json":
		codec.Format = FORMAT_JSON
	case ".yaml", ".yml":
		codec.Format = FORMAT_YAML
	case ".cbor":
		codec.Format = FORMAT_CBOR
	default:
		return Codec{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	return codec, nil
}

func (c Codec) Extension() string {
	extension := "." + string(c.Format)
	if c.Compressed {
		extension += ".gz"
	}
	return extension
}

func (c Codec) ContentType() string {
	if c.Compressed {
		return "application/gzip"
	}

	switch c.Format {
	case FORMAT_YAML:
		return "application/yaml"
	case FORMAT_CBOR:
		return "application/cbor"
	}
	return "application/json"
}

func Compress(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	gz := gzip.NewWriter(&buffer)
	_, err := gz.Write(data)
	if err != nil {
		return nil, err
	}

	err = gz.Close()
	if err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func Decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func (c Codec) Encode(document *terrain.Document) ([]byte, error) {
	var data []byte
	var err error

	switch c.Format {
	case FORMAT_JSON:
		data, err = json.MarshalIndent(document, "", "  ")
	case FORMAT_YAML:
		var buffer bytes.Buffer
		encoder := yaml.NewEncoder(&buffer)
		encoder.SetIndent(2)
		if err = encoder.Encode(document); err == nil {
			err = encoder.Close()
		}
		data = buffer.Bytes()
	case FORMAT_CBOR:
		data, err = cbor.Marshal(document)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, c.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("could not encode %s document: %w", c.Format, err)
	}

	if !c.Compressed {
		return data, nil
	}

	return Compress(data)
}

// Decode parses a document. Empty input is reported as
// terrain.ErrMissingUpload.
func (c Codec) Decode(data []byte) (*terrain.Document, error) {
	if len(data) == 0 {
		return nil, terrain.ErrMissingUpload
	}

	var err error
	if c.Compressed {
		data, err = Decompress(data)
		if err != nil {
			return nil, err
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, terrain.ErrMissingUpload
	}

	var document terrain.Document
	switch c.Format {
	case FORMAT_JSON:
		err = json.Unmarshal(data, &document)
	case FORMAT_YAML:
		err = yaml.Unmarshal(data, &document)
	case FORMAT_CBOR:
		err = cborDecoder.Unmarshal(data, &document)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, c.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("could not decode %s document: %w", c.Format, err)
	}

	err = normalize(&document)
	if err != nil {
		return nil, err
	}

	return &document, nil
}

// normalize gives record attributes the same shape whichever format they
// came from.
func normalize(document *terrain.Document) error {
	for i := range document.Terrains {
		record := &document.Terrains[i].Record
		for key, value := range record.Attributes {
			normalized, err := store.Normalize(value)
			if err != nil {
				return fmt.Errorf("attribute %s: %w", key, err)
			}
			record.Attributes[key] = normalized
		}
	}
	return nil
}

func ReadFile(path string) (*terrain.Document, error) {
	codec, err := ForPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return codec.Decode(data)
}

func WriteFile(path string, document *terrain.Document) error {
	codec, err := ForPath(path)
	if err != nil {
		return err
	}

	data, err := codec.Encode(document)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Slug turns a terrain name into something safe for a file name.
func Slug(name string) string {
	var builder strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
			dash = false
			continue
		}

		if !dash && builder.Len() > 0 {
			builder.WriteRune('-')
			dash = true
		}
	}

	slug := strings.TrimSuffix(builder.String(), "-")
	if slug == "" {
		return "unnamed"
	}
	return slug
}

// Filename is the name of a whole-collection export.
func Filename(moduleID string) string {
	return fmt.Sprintf("%s-terrains.json", moduleID)
}

// TerrainFilename is the name of a single terrain export.
func TerrainFilename(moduleID string, name string) string {
	return fmt.Sprintf("%s-terrain-%s.json", moduleID, Slug(name))
}
