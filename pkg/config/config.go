package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".hldbg"
	configFile string = "config.yml"
)

// Backend names accepted by the backend option.
const (
	BackendDefault   = "default"
	BackendNative    = "native"
	BackendGdbRemote = "gdbremote"
)

// GdbRemoteConfig configures the gdb remote serial protocol backend.
type GdbRemoteConfig struct {
	// StubPath is the debugserver or lldb-server executable to start.
	StubPath string `yaml:"stub-path,omitempty"`
	// Address of a stub that is already running, no stub is started when
	// it is set.
	Address string `yaml:"address,omitempty"`
	// PacketTimeout bounds every request/response exchange with the stub.
	PacketTimeout time.Duration `yaml:"packet-timeout,omitempty"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Backend selects how processes are attached: "native" uses the
	// operating system's debugging interface, "gdbremote" a gdb remote
	// stub, "default" picks native where available.
	Backend string `yaml:"backend,omitempty"`

	// MaxSessions is the number of processes that can be debugged at the
	// same time.
	MaxSessions int `yaml:"max-sessions,omitempty"`
	// StopTimeout bounds the time detaching waits for the event monitor
	// of a process to terminate.
	StopTimeout time.Duration `yaml:"stop-timeout,omitempty"`
	// HandleCacheSize is the number of OS handles kept open, on systems
	// that use them.
	HandleCacheSize int `yaml:"handle-cache-size,omitempty"`

	GdbRemote GdbRemoteConfig `yaml:"gdbremote,omitempty"`

	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`
}

// BackendName returns the configured backend, "default" if unset.
func (c *Config) BackendName() string {
	if c.Backend == "" {
		return BackendDefault
	}
	return c.Backend
}

// Validate checks that the options have acceptable values.
func (c *Config) Validate() error {
	switch c.BackendName() {
	case BackendDefault, BackendNative, BackendGdbRemote:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("max-sessions must not be negative, got %d", c.MaxSessions)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop-timeout must not be negative, got %v", c.StopTimeout)
	}
	if c.HandleCacheSize < 0 {
		return fmt.Errorf("handle-cache-size must not be negative, got %d", c.HandleCacheSize)
	}
	if c.GdbRemote.PacketTimeout < 0 {
		return fmt.Errorf("gdbremote.packet-timeout must not be negative, got %v", c.GdbRemote.PacketTimeout)
	}
	for cmd, aliases := range c.Aliases {
		for _, alias := range aliases {
			if alias == "" {
				return fmt.Errorf("empty alias for command %q", cmd)
			}
		}
	}
	return nil
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}

	c, err := LoadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFile reads and validates the configuration stored at path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %v", path, err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	err = writeDefaultConfig(f)
	if err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

const defaultConfig = `# Configuration file for the hldbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Debugging backend: default, native or gdbremote.
# backend: default

# Number of processes that can be attached at the same time.
# max-sessions: 8

# Time to wait for the event monitor of a process when detaching.
# stop-timeout: 2s

# Number of process and thread handles kept open (Windows only).
# handle-cache-size: 64

# Options of the gdbremote backend.
# gdbremote:
#   stub-path: /usr/bin/lldb-server
#   address: 127.0.0.1:1234
#   packet-timeout: 5s

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]
`

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(defaultConfig)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
