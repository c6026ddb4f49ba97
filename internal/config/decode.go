package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a supported configuration file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format implied by the file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".toml":
		return FormatTOML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// readDocument reads a file into a generic document. All formats decode to
// the same shape so one mapstructure pass handles every format.
func readDocument(path string) (map[string]any, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}

	doc := make(map[string]any)
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return doc, nil
}

// decodeDocument overlays doc onto out, which should already hold defaults.
func decodeDocument(doc map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(lengthHook),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

var lengthType = reflect.TypeOf(Length{})

// lengthHook decodes strings and bare numbers into Length.
func lengthHook(from, to reflect.Type, data any) (any, error) {
	if to != lengthType {
		return data, nil
	}

	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.String:
		return ParseLength(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Pixels(float64(v.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Pixels(float64(v.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Pixels(v.Float()), nil
	default:
		return data, nil
	}
}

// loadWidgetFile reads, decodes and validates one widget definition.
func loadWidgetFile(path string) (*WidgetConfig, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	wc := DefaultWidgetConfig()
	if err := decodeDocument(doc, wc); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	wc.Path = path

	if wc.Name == "" {
		wc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(wc.Placements) == 0 {
		wc.Placements = []Placement{DefaultPlacement()}
	}

	if err := wc.Validate(); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	return wc, nil
}

// loadSettingsFile reads, decodes and validates the settings file.
func loadSettingsFile(path string) (*Settings, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	s := DefaultSettings()
	if err := decodeDocument(doc, s); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	return s, nil
}
