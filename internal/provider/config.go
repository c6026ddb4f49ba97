package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-viper/mapstructure/v2"
)

// ConfigHash returns a stable hash of a subscription config. Map keys are
// encoded in sorted order, so equal configs hash equally regardless of the
// order their keys were written in.
func ConfigHash(cfg map[string]any) (string, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode provider config: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// decodeConfig overlays cfg onto out. Durations accept Go duration strings
// ("5s") or bare numbers of milliseconds.
func decodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisecondsHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid provider config: %w", err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func millisecondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(v.Int()) * time.Millisecond, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(v.Uint()) * time.Millisecond, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(v.Float() * float64(time.Millisecond)), nil
	case reflect.String:
		if ms, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
	}
	return data, nil
}

// BaseConfig holds the settings shared by every provider.
type BaseConfig struct {
	RefreshInterval time.Duration `mapstructure:"refreshInterval"`
}

func (b BaseConfig) interval(def time.Duration) time.Duration {
	if b.RefreshInterval <= 0 {
		return def
	}
	return max(b.RefreshInterval, 100*time.Millisecond)
}
