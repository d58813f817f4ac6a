package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	J "cuelang.org/go/encoding/json"
	"cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaFile string

//go:embed default.yaml
var DEFAULT []byte

var (
	ErrUnknownFormat = fmt.Errorf("unsupported config format")
	ErrInvalid       = fmt.Errorf("invalid configuration")
)

type layer map[string]any

// extract parses a single configuration source into a cue value.
func extract(ctx *cue.Context, name string, data []byte) (cue.Value, error) {
	switch filepath.Ext(name) {
	case ".json":
		expr, err := J.Extract(name, data)
		if err != nil {
			return cue.Value{}, err
		}
		value := ctx.BuildExpr(expr)
		return value, value.Err()
	case ".yaml", ".yml":
		file, err := yaml.Extract(name, data)
		if err != nil {
			return cue.Value{}, err
		}
		value := ctx.BuildFile(file)
		return value, value.Err()
	}

	return cue.Value{}, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

func toLayer(value cue.Value) (layer, error) {
	data, err := value.MarshalJSON()
	if err != nil {
		return nil, err
	}

	out := make(layer)
	err = json.Unmarshal(data, &out)
	return out, err
}

func readLayer(ctx *cue.Context, path string) (layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	value, err := extract(ctx, path, data)
	if err != nil {
		return nil, err
	}

	return toLayer(value)
}

// build turns a merged layer back into a cue value.
func build(ctx *cue.Context, name string, l layer) (cue.Value, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return cue.Value{}, err
	}
	return extract(ctx, name+".json", data)
}

// merge writes src over dst. Nested objects are merged key by key, anything
// else replaces what was there.
func merge(dst, src layer) {
	for key, value := range src {
		child, isMap := value.(map[string]any)
		existing, hadMap := dst[key].(map[string]any)
		if isMap && hadMap {
			merge(existing, child)
			continue
		}
		dst[key] = value
	}
}

// Process layers the given configuration files, in order, over the embedded
// default configuration and checks the result against the schema. Files may
// be partial.
func Process(configPaths []string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaFile)
	if err := schema.Err(); err != nil {
		return nil, err
	}

	base, err := extract(ctx, "<default>.yaml", DEFAULT)
	if err != nil {
		return nil, fmt.Errorf("invalid default config file: %w", err)
	}

	merged, err := toLayer(base)
	if err != nil {
		return nil, fmt.Errorf("invalid default config file: %w", err)
	}

	for _, path := range configPaths {
		next, err := readLayer(ctx, path)
		if err != nil {
			return nil, fmt.Errorf(
				"could not process config file %s: %w",
				path,
				err,
			)
		}

		// Each file has to fit the schema on its own so errors name it
		value, err := build(ctx, path, next)
		if err != nil {
			return nil, err
		}
		if err := schema.Unify(value).Validate(); err != nil {
			return nil, fmt.Errorf("config file %s is not valid: %w", path, err)
		}

		merge(merged, next)
	}

	value, err := build(ctx, "<merged>", merged)
	if err != nil {
		return nil, err
	}

	final := schema.Unify(value)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	data, err := final.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("could not aggregate config: %w", err)
	}

	config := Config{}
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
