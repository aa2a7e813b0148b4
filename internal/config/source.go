package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ConfigSource describes where non-env settings came from.
type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

// runtimeSource is the yaml file picked by CONFIG_FILE or CONFIG_PHASE. It is
// read at most once per process; env vars always take precedence over it.
type runtimeSource struct {
	once   sync.Once
	err    error
	info   ConfigSource
	values map[string]string
}

var fileSource runtimeSource

func CurrentConfigSource() (ConfigSource, error) {
	if err := fileSource.load(); err != nil {
		return ConfigSource{}, err
	}
	return fileSource.info, nil
}

func (s *runtimeSource) load() error {
	s.once.Do(func() {
		s.values, s.info, s.err = readRuntimeFile(os.Getenv("CONFIG_PHASE"), os.Getenv("CONFIG_FILE"))
	})
	return s.err
}

func readRuntimeFile(phase, path string) (map[string]string, ConfigSource, error) {
	info := ConfigSource{Phase: strings.TrimSpace(phase)}
	if info.Phase == "" {
		info.Phase = "local"
	}

	path = strings.TrimSpace(path)
	explicit := path != ""
	if !explicit {
		path = filepath.Join("config", "config-"+info.Phase+".yaml")
	}

	body, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return map[string]string{}, info, nil
	case err != nil:
		return nil, info, fmt.Errorf("read config file %q: %w", path, err)
	}

	values, err := parseConfigYAML(body)
	if err != nil {
		return nil, info, fmt.Errorf("load config file %q: %w", path, err)
	}

	info.Loaded = true
	info.Path = path
	if abs, absErr := filepath.Abs(path); absErr == nil {
		info.Path = abs
	}
	return values, info, nil
}

// parseConfigYAML turns nested yaml into the UPPER_SNAKE keys env lookups use,
// so `whirlpool: {pool_cache_ttl: 1m}` answers WHIRLPOOL_POOL_CACHE_TTL.
func parseConfigYAML(body []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	out := make(map[string]string)
	if err := flattenConfigValue("", root, out); err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case nil:
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if prefix != "" {
				segment = prefix + "_" + segment
			}
			if err := flattenConfigValue(segment, child, out); err != nil {
				return err
			}
		}
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			switch item.(type) {
			case string, bool, int, int64, uint64, float64:
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				items = append(items, s)
			}
		}
		out[prefix] = strings.Join(items, ",")
	default:
		out[prefix] = fmt.Sprint(typed)
	}
	return nil
}

// normalizeKeySegment upper-cases letters and digits and collapses every other
// run of characters into a single underscore.
func normalizeKeySegment(raw string) string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.ToUpper(strings.Join(fields, "_"))
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if fileSource.load() != nil {
		return ""
	}
	return strings.TrimSpace(fileSource.values[key])
}
