// Package config loads SimDB client and server configuration.
// Precedence (highest to lowest): flags > env vars > config file >
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

// DatabaseConfig selects and locates the metadata store.
type DatabaseConfig struct {
	// Type is sqlite or postgres.
	Type     string `koanf:"type"`
	File     string `koanf:"file"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

// ServerConfig configures `simdb serve`.
type ServerConfig struct {
	Listen        string        `koanf:"listen"`
	UploadFolder  string        `koanf:"upload_folder"`
	AdminPassword string        `koanf:"admin_password"`
	TokenLifetime time.Duration `koanf:"token_lifetime"`
	SSLEnabled    bool          `koanf:"ssl_enabled"`
	SSLCertFile   string        `koanf:"ssl_cert_file"`
	SSLKeyFile    string        `koanf:"ssl_key_file"`
}

// RemoteConfig names one remote SimDB service.
type RemoteConfig struct {
	URL      string `koanf:"url"`
	Token    string `koanf:"token"`
	Username string `koanf:"username"`
}

// EmailConfig configures watcher notification mail.
type EmailConfig struct {
	Server   string `koanf:"server"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// ValidationConfig sets the reference-validation policy.
type ValidationConfig struct {
	AutoValidate bool `koanf:"auto_validate"`
	ErrorOnFail  bool `koanf:"error_on_fail"`
}

// Config is the full SimDB configuration.
type Config struct {
	Database      DatabaseConfig          `koanf:"database"`
	Server        ServerConfig            `koanf:"server"`
	Remotes       map[string]RemoteConfig `koanf:"remotes"`
	DefaultRemote string                  `koanf:"default_remote"`
	Email         EmailConfig             `koanf:"email"`
	Validation    ValidationConfig        `koanf:"validation"`
	Verbose       bool                    `koanf:"verbose"`
}

// Default configuration values.
const (
	DefaultDatabaseType = "sqlite"
	DefaultListen       = ":8642"
)

var configFileUsed string

// DefaultDatabaseFile is the local sqlite store location.
func DefaultDatabaseFile() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".simdb", "simdb.db")
	}
	return "simdb.db"
}

// DefaultUploadFolder is where the server stages pushed payloads.
func DefaultUploadFolder() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".simdb", "uploads")
	}
	return "uploads"
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"simdb.yaml", "simdb.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"simdb.yaml", "simdb.yml"} {
			candidate := filepath.Join(home, ".simdb", name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// Load reads the configuration. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"database.type":         DefaultDatabaseType,
		"database.file":         DefaultDatabaseFile(),
		"server.listen":         DefaultListen,
		"server.upload_folder":  DefaultUploadFolder(),
		"server.token_lifetime": "24h",
		"verbose":               false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// SIMDB_DATABASE_FILE -> database.file. The first underscore
	// separates the section; the rest of the key keeps its underscores.
	if err := k.Load(env.Provider("SIMDB_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "SIMDB_"))
		switch key {
		case "default_remote", "verbose":
			return key
		}
		return strings.Replace(key, "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			switch f.Name {
			case "database":
				return "database.file", posflag.FlagVal(flags, f)
			case "verbose":
				return "verbose", posflag.FlagVal(flags, f)
			}
			return "", nil
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// FileUsed reports which config file the last Load read, if any.
func FileUsed() string { return configFileUsed }

// Remote resolves a remote by name, falling back to the configured
// default, then to a sole configured remote.
func (c *Config) Remote(name string) (string, RemoteConfig, error) {
	if name == "" {
		name = c.DefaultRemote
	}
	if name == "" && len(c.Remotes) == 1 {
		for only := range c.Remotes {
			name = only
		}
	}
	if name == "" {
		return "", RemoteConfig{}, fmt.Errorf("no remote selected and no default_remote configured")
	}
	rc, ok := c.Remotes[name]
	if !ok {
		return "", RemoteConfig{}, fmt.Errorf("unknown remote %q", name)
	}
	return name, rc, nil
}

// editPath is the file Set/Delete operate on: the file in use, or the
// per-user default when none exists yet.
func editPath(cfgFile string) (string, error) {
	if path := findConfigFile(cfgFile); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate home directory: %w", err)
	}
	dir := filepath.Join(home, ".simdb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "simdb.yaml"), nil
}

func readTree(path string) (map[string]any, error) {
	tree := make(map[string]any)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return tree, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yamlv3.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return tree, nil
}

func writeTree(path string, tree map[string]any) error {
	data, err := yamlv3.Marshal(tree)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Set writes one dotted key into the config file, creating it when
// missing.
func Set(cfgFile, key, value string) error {
	path, err := editPath(cfgFile)
	if err != nil {
		return err
	}
	tree, err := readTree(path)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return writeTree(path, tree)
}

// Delete removes one dotted key from the config file.
func Delete(cfgFile, key string) error {
	path, err := editPath(cfgFile)
	if err != nil {
		return err
	}
	tree, err := readTree(path)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			return fmt.Errorf("key %q not set", key)
		}
		node = child
	}
	if _, ok := node[parts[len(parts)-1]]; !ok {
		return fmt.Errorf("key %q not set", key)
	}
	delete(node, parts[len(parts)-1])
	return writeTree(path, tree)
}

// Get reads one dotted key from the config file.
func Get(cfgFile, key string) (string, error) {
	path, err := editPath(cfgFile)
	if err != nil {
		return "", err
	}
	tree, err := readTree(path)
	if err != nil {
		return "", err
	}
	flat := flatten("", tree)
	value, ok := flat[key]
	if !ok {
		return "", fmt.Errorf("key %q not set", key)
	}
	return value, nil
}

// List returns every dotted key set in the config file, sorted.
func List(cfgFile string) (map[string]string, []string, error) {
	path, err := editPath(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	tree, err := readTree(path)
	if err != nil {
		return nil, nil, err
	}
	flat := flatten("", tree)
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return flat, keys, nil
}

func flatten(prefix string, node map[string]any) map[string]string {
	flat := make(map[string]string)
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			for k, v := range flatten(full, child) {
				flat[k] = v
			}
			continue
		}
		flat[full] = fmt.Sprintf("%v", value)
	}
	return flat
}
