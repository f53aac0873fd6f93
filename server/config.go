package server

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/precomputed"
	"github.com/janelia-flyem/n5ng/storage"
)

const (
	// DefaultWebAddress is the default address of the HTTP server.
	DefaultWebAddress = "0.0.0.0:5000"

	// DefaultFallbackAddress is used when DefaultWebAddress cannot be bound.
	DefaultFallbackAddress = "0.0.0.0:5001"

	// DefaultShutdownDelay is the number of seconds in-flight requests get on shutdown.
	DefaultShutdownDelay = 5
)

// DefaultHost is the default most understandable alias for this server.
var DefaultHost = "localhost"

func init() {
	// Assumes Linux or Mac.
	cmd := exec.Command("/bin/hostname", "-f")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		n5ng.Errorf("Unable to get default Host name via /bin/hostname: %v\n", err)
		n5ng.Errorf("Using 'localhost' as default Host name.\n")
		return
	}
	if host := strings.TrimSpace(out.String()); host != "" {
		DefaultHost = host
	}
}

// Config is the parsed TOML configuration of an n5ng server.
type Config struct {
	Server      serverConfig
	Store       storeConfig
	Precomputed precomputed.Config `validate:"-"`
	Mesh        MeshConfig
	Cache       cacheConfig
	Logging     n5ng.LogConfig
	Kafka       KafkaConfig

	location string
}

type serverConfig struct {
	HTTPAddress     string `toml:"httpAddress" validate:"required"`
	FallbackAddress string `toml:"fallbackAddress"`
	Host            string
	Note            string

	// CorsDomains lists allowed origins; empty allows all.
	CorsDomains []string `toml:"corsDomains"`

	// MaxConnections caps simultaneous connections; 0 means no cap.
	MaxConnections int `toml:"maxConnections" validate:"gte=0"`

	ShutdownDelay int  `toml:"shutdownDelay" validate:"gte=0"` // seconds
	Profiling     bool `toml:"profiling"`
}

type storeConfig struct {
	Ref     string `toml:"ref"`
	Format  string `toml:"format" validate:"oneof=auto n5 zarr"`
	Workers int    `toml:"workers" validate:"gte=0"`
}

// MeshConfig is the [mesh] section.
type MeshConfig struct {
	Host           string `toml:"host"`
	Dir            string `toml:"dir"`
	PropertiesFile string `toml:"properties_file"`
}

type cacheConfig struct {
	ChunkMB         int `toml:"chunkMB" validate:"gte=0"`
	MetadataEntries int `toml:"metadataEntries" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no TOML file is given.
func DefaultConfig() Config {
	pc := precomputed.DefaultConfig()
	return Config{
		Server: serverConfig{
			HTTPAddress:     DefaultWebAddress,
			FallbackAddress: DefaultFallbackAddress,
			ShutdownDelay:   DefaultShutdownDelay,
		},
		Store: storeConfig{
			Format:  "auto",
			Workers: storage.DefaultWorkers,
		},
		Precomputed: pc,
		Mesh: MeshConfig{
			Dir:            pc.MeshDir,
			PropertiesFile: pc.PropertiesFile,
		},
		Cache: cacheConfig{
			ChunkMB:         256,
			MetadataEntries: 1024,
		},
	}
}

// LoadConfig loads the server configuration from a TOML file.  Settings missing from
// the file keep their defaults.
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, fmt.Errorf("no server TOML configuration file provided")
	}
	if _, err := toml.DecodeFile(filename, &cfg); err != nil {
		return cfg, fmt.Errorf("could not decode TOML config: %v", err)
	}
	cfg.location = filename
	cfg.convertPathsToAbsolute(filename)
	n5ng.Infof("tomlConfig: %+v\n", cfg)
	return cfg, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) {
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile = n5ng.ConvertToAbsolute(c.Logging.Logfile, configDir)
	}

	// [store].ref, unless it is a bucket URL
	if c.Store.Ref != "" {
		c.Store.Ref = n5ng.ConvertToAbsolute(c.Store.Ref, configDir)
	}
}

// Validate checks every setting against its constraints.
func (c Config) Validate() error {
	pc := c.PrecomputedConfig()
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("bad server configuration: %v", err)
	}
	if err := v.Struct(pc); err != nil {
		return fmt.Errorf("bad [precomputed] or [mesh] configuration: %v", err)
	}
	return nil
}

// Location returns the TOML file the configuration came from, if any.
func (c Config) Location() string {
	return c.location
}

// PrecomputedConfig returns the [precomputed] settings completed by the [mesh] section.
func (c Config) PrecomputedConfig() precomputed.Config {
	pc := c.Precomputed
	pc.MeshHost = c.Mesh.Host
	pc.MeshDir = c.Mesh.Dir
	pc.PropertiesFile = c.Mesh.PropertiesFile
	return pc
}

// StoreOptions returns the options for opening the array store.
func (c Config) StoreOptions() storage.Options {
	return storage.Options{
		Format:          c.Store.Format,
		Workers:         c.Store.Workers,
		ChunkCacheMB:    c.Cache.ChunkMB,
		MetadataEntries: c.Cache.MetadataEntries,
	}
}

// WebServer returns the configured host name or, if not specified, the retrieved
// hostname plus the port of the web server.
func (c Config) WebServer() string {
	if c.Server.Host != "" {
		return c.Server.Host
	}
	host := DefaultHost
	if parts := strings.Split(c.Server.HTTPAddress, ":"); len(parts) > 1 {
		host += ":" + parts[len(parts)-1]
	}
	return host
}
