// Package toml adds support to marshal and unmarshal types not in the official TOML spec.
package toml

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	// Ignore if there is no value set.
	if len(text) == 0 {
		return nil
	}

	// Otherwise parse as a duration formatted string.
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	// Set duration and return.
	*d = Duration(duration)
	return nil
}

// MarshalText converts a duration to a string for decoding TOML.
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// Size represents a TOML parseable file size.
// Users can specify size using "k" for kilobytes, "m" for megabytes,
// and "g" for gigabytes.
type Size uint64

// UnmarshalText parses a byte size from text.
func (s *Size) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return fmt.Errorf("size was empty")
	}

	// The multiplier defaults to 1 in case the size has no suffix.
	mult := uint64(1)

	// Preprocess the string to remove the suffix if present and determine the multiplier.
	suffix := text[len(text)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1 << 10
		text = text[:len(text)-1]
	case 'm', 'M':
		mult = 1 << 20
		text = text[:len(text)-1]
	case 'g', 'G':
		mult = 1 << 30
		text = text[:len(text)-1]
	}

	size, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size: %s", string(text))
	}
	*s = Size(size * mult)
	return nil
}

// ApplyEnvOverrides applies environment variables on top of a config value.
// Keys are derived from the toml tags of the struct fields, uppercased and
// joined with underscores, e.g. PREFIX_HTTP_BIND_ADDRESS.
func ApplyEnvOverrides(getenv func(string) string, prefix string, val interface{}) error {
	return applyEnvOverrides(getenv, prefix, reflect.ValueOf(val), "")
}

func applyEnvOverrides(getenv func(string) string, prefix string, spec reflect.Value, structKey string) error {
	element := spec
	// If spec is a named type and is addressable,
	// check the address to see if it implements encoding.TextUnmarshaler.
	if spec.Kind() == reflect.Ptr {
		if spec.IsNil() {
			return nil
		}
		element = spec.Elem()
	}

	value := getenv(prefix)

	// If the type is a TextUnmarshaler and a value was found, use it.
	if len(value) > 0 && element.CanAddr() {
		if u, ok := element.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(value))
		}
	}

	switch element.Kind() {
	case reflect.String:
		if len(value) == 0 {
			return nil
		}
		element.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if len(value) == 0 {
			return nil
		}
		var intValue int64
		// Handle toml.Duration
		if element.Type().Name() == "Duration" {
			dur, err := time.ParseDuration(value)
			if err != nil {
				return errors.Wrapf(err, "failed to apply %v to %v using type %v and value '%v'",
					prefix, structKey, element.Type().String(), value)
			}
			intValue = dur.Nanoseconds()
		} else {
			var base = 10
			if strings.HasPrefix(value, "0x") {
				base = 16
				value = value[2:]
			}
			v, err := strconv.ParseInt(value, base, element.Type().Bits())
			if err != nil {
				return errors.Wrapf(err, "failed to apply %v to %v using type %v and value '%v'",
					prefix, structKey, element.Type().String(), value)
			}
			intValue = v
		}
		element.SetInt(intValue)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if len(value) == 0 {
			return nil
		}
		v, err := strconv.ParseUint(value, 10, element.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "failed to apply %v to %v using type %v and value '%v'",
				prefix, structKey, element.Type().String(), value)
		}
		element.SetUint(v)
	case reflect.Bool:
		if len(value) == 0 {
			return nil
		}
		v, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "failed to apply %v to %v using type %v and value '%v'",
				prefix, structKey, element.Type().String(), value)
		}
		element.SetBool(v)
	case reflect.Float32, reflect.Float64:
		if len(value) == 0 {
			return nil
		}
		v, err := strconv.ParseFloat(value, element.Type().Bits())
		if err != nil {
			return errors.Wrapf(err, "failed to apply %v to %v using type %v and value '%v'",
				prefix, structKey, element.Type().String(), value)
		}
		element.SetFloat(v)
	case reflect.Slice:
		// If the type is a slice, apply to each element using the index as a suffix,
		// e.g. FILTERS_0, FILTERS_1.
		for j := 0; j < element.Len(); j++ {
			f := element.Index(j)
			if err := applyEnvOverrides(getenv, prefix, f, structKey); err != nil {
				return err
			}
			if err := applyEnvOverrides(getenv, fmt.Sprintf("%s_%d", prefix, j), f, structKey); err != nil {
				return err
			}
		}
	case reflect.Struct:
		typeOfSpec := element.Type()
		for i := 0; i < element.NumField(); i++ {
			field := element.Field(i)

			// Skip any fields that we cannot set.
			if !field.CanSet() && field.Kind() != reflect.Slice {
				continue
			}

			fieldName := typeOfSpec.Field(i).Name

			configName := typeOfSpec.Field(i).Tag.Get("toml")
			if configName == "-" {
				continue
			}

			// Replace hyphens with underscores to avoid issues with shells.
			configName = strings.Replace(configName, "-", "_", -1)

			envKey := strings.ToUpper(configName)
			if prefix != "" {
				envKey = strings.ToUpper(fmt.Sprintf("%s_%s", prefix, configName))
			}

			// If the type is s struct or pointer to a struct, recurse to the
			// struct fields so nested config options can be applied.
			if field.Kind() == reflect.Struct || field.Kind() == reflect.Ptr ||
				field.Kind() == reflect.Slice {
				if err := applyEnvOverrides(getenv, envKey, field, fieldName); err != nil {
					return err
				}
				continue
			}

			value := getenv(envKey)
			// Skip any fields we don't have a value to set.
			if len(value) == 0 {
				continue
			}

			if err := applyEnvOverrides(getenv, envKey, field, fieldName); err != nil {
				return err
			}
		}
	}
	return nil
}
