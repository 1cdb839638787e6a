package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/refresher/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Format is a catalog file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported catalog extension %q (want .yaml, .yml, .json or .cue)", filepath.Ext(path))
	}
}

// LoadFile reads and decodes a catalog file. The batch is not validated.
func LoadFile(path string) (*Batch, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	b, err := Parse(data, format, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes catalog bytes in the given format. name is used in CUE
// error positions.
func Parse(data []byte, format Format, name string) (*Batch, error) {
	switch format {
	case FormatYAML:
		return parseYAML(data)
	case FormatJSON:
		return parseJSON(data)
	case FormatCUE:
		return parseCUE(data, name)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
}

func parseYAML(data []byte) (*Batch, error) {
	var b Batch
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return &b, nil
		}
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &b, nil
}

func parseJSON(data []byte) (*Batch, error) {
	var b Batch
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&b); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return &b, nil
}

func parseCUE(data []byte, name string) (*Batch, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, cueValidation(err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueValidation(err)
	}

	var b Batch
	if err := unified.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode CUE catalog: %w", err)
	}
	return &b, nil
}

// cueValidation converts CUE errors into joined validation errors, one per
// CUE error, keeping the source position.
func cueValidation(err error) error {
	var errs []error
	for _, e := range cueerrors.Errors(err) {
		ve := model.NewValidationError("", "", strings.Join(e.Path(), "."), e.Error())
		if pos := e.Position(); pos.IsValid() {
			ve.Details["position"] = fmt.Sprintf("%s:%d:%d", pos.Filename(), pos.Line(), pos.Column())
		}
		errs = append(errs, ve)
	}
	if len(errs) == 0 {
		return model.NewValidationError("", "", "", err.Error())
	}
	return errors.Join(errs...)
}
