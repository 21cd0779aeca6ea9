package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup",
			"path", back3,
			"error", err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, 0644); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// SetValue persists key=raw into ~/.factgraph/am.toml and resets the cached config.
// The stored value is typed after the key's default.
func SetValue(key, raw string) (interface{}, error) {
	path := UserConfigPath()
	if path == "" {
		return nil, errors.New("could not determine home directory")
	}
	value, err := SetValueInFile(path, key, raw)
	if err != nil {
		return nil, err
	}
	Reset()
	return value, nil
}

// SetValueInFile persists key=raw into the TOML file at path, creating it
// if needed. The file is only written when the resulting config validates.
func SetValueInFile(path, key, raw string) (interface{}, error) {
	key = strings.ToLower(key)

	defaults := viper.New()
	SetDefaults(defaults)
	if !defaults.IsSet(key) {
		return nil, errors.Newf("unknown configuration key %q", key)
	}
	value, err := coerce(defaults.Get(key), raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid value for %s", key)
	}

	settings, err := readTOML(path)
	if err != nil {
		return nil, err
	}
	setNested(settings, strings.Split(key, "."), value)

	// Validate what the file would produce on its own.
	check := viper.New()
	SetDefaults(check)
	if err := check.MergeConfigMap(settings); err != nil {
		return nil, errors.Wrap(err, "failed to merge config")
	}
	config, err := LoadWithViper(check)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return nil, errors.Wrap(err, "failed to create config directory")
	}
	if err := saveTOML(path, settings); err != nil {
		return nil, err
	}
	return value, nil
}

func readTOML(path string) (map[string]interface{}, error) {
	settings := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return settings, nil
}

// saveTOML writes settings to path with backup
func saveTOML(path string, settings map[string]interface{}) error {
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

func setNested(settings map[string]interface{}, path []string, value interface{}) {
	for _, part := range path[:len(path)-1] {
		next, ok := settings[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			settings[part] = next
		}
		settings = next
	}
	settings[path[len(path)-1]] = value
}

// coerce converts raw to the type of the default value
func coerce(def interface{}, raw string) (interface{}, error) {
	switch def.(type) {
	case bool:
		return cast.ToBoolE(raw)
	case int:
		return cast.ToInt64E(raw)
	case float64:
		return cast.ToFloat64E(raw)
	case []string:
		var out []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}
