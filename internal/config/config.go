package config

import (
	"errors"
	"fmt"
	"github.com/BurntSushi/toml"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	EnvConfigPath = "ADMINPLANE_CONFIG"
	appConfDir    = ".adminplane"
	appConfFile   = "config.toml"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration decodes TOML strings such as "5s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	Name              string   `toml:"name"`
	Host              string   `toml:"host"`
	AdminPort         int      `toml:"admin_port"`
	ConnectionTimeout Duration `toml:"connection_timeout"`
	MaxFrameSize      int      `toml:"max_frame_size"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
	MaxConnections    int      `toml:"max_connections"`
	Dispatchers       []string `toml:"dispatchers"`
}

type SecurityConfig struct {
	Transport          string `toml:"transport"`
	Encryption         string `toml:"encryption"`
	Seed               string `toml:"seed"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type FilesConfig struct {
	Enabled       bool   `toml:"enabled"`
	DownloadPort  int    `toml:"download_port"`
	UploadPort    int    `toml:"upload_port"`
	BufferKB      int    `toml:"buffer_kb"`
	MaxUploadSize int64  `toml:"max_upload_size"`
	TempDir       string `toml:"temp_dir"`
}

type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

type StorageConfig struct {
	Backend  string      `toml:"backend"`
	Location string      `toml:"location"`
	Minio    MinioConfig `toml:"minio"`
}

type WebConfig struct {
	Enabled bool     `toml:"enabled"`
	Port    int      `toml:"port"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

type MDNSConfig struct {
	Publish  bool   `toml:"publish"`
	Instance string `toml:"instance"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	NoColor     bool   `toml:"no_color"`
	AddSource   bool   `toml:"add_source"`
	BufferLines int    `toml:"buffer_lines"`
}

// Operation is a named CLI shortcut that sends one module command.
type Operation struct {
	Dispatcher string `toml:"dispatcher"`
	Command    string `toml:"command"`
	Entity     string `toml:"entity"`
}

type Config struct {
	Server     ServerConfig         `toml:"server"`
	Security   SecurityConfig       `toml:"security"`
	Files      FilesConfig          `toml:"files"`
	Storage    StorageConfig        `toml:"storage"`
	Web        WebConfig            `toml:"web"`
	MDNS       MDNSConfig           `toml:"mdns"`
	Log        LogConfig            `toml:"log"`
	Operations map[string]Operation `toml:"operations"`
}

// Default returns a configuration that runs a single local node.
func Default() Config {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "adminplane"
	}
	return Config{
		Server: ServerConfig{
			Name:              name,
			Host:              "127.0.0.1",
			AdminPort:         9775,
			ConnectionTimeout: Duration{5 * time.Second},
			MaxFrameSize:      512 * 1024,
			ShutdownTimeout:   Duration{60 * time.Second},
			MaxConnections:    64,
			Dispatchers:       []string{"log", "info"},
		},
		Security: SecurityConfig{
			Transport:  transport.ModePlain.String(),
			Encryption: message.EncryptionNone.String(),
		},
		Files: FilesConfig{
			Enabled:       true,
			DownloadPort:  9777,
			UploadPort:    9779,
			BufferKB:      32,
			MaxUploadSize: 1 << 30,
		},
		Storage: StorageConfig{
			Backend:  "local",
			Location: filepath.ToSlash(filepath.Join(os.TempDir(), "adminplane", "files")),
		},
		Web: WebConfig{
			Port: 9780,
		},
		Log: LogConfig{
			Level:       "info",
			BufferLines: 500,
		},
	}
}

// Validate reports every problem found, joined, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}
	if strings.TrimSpace(c.Server.Name) == "" {
		bad("server.name must not be empty")
	}
	if strings.Contains(c.Server.Name, message.Separator) {
		bad("server.name contains the message separator")
	}
	checkPort := func(key string, p int) {
		if p < 0 || p > 65535 {
			bad("%s %d out of range", key, p)
		}
	}
	checkPort("server.admin_port", c.Server.AdminPort)
	if c.Server.MaxFrameSize <= 0 {
		bad("server.max_frame_size must be positive")
	}
	if c.Server.ConnectionTimeout.Duration <= 0 {
		bad("server.connection_timeout must be positive")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		bad("server.shutdown_timeout must be positive")
	}
	if c.Server.MaxConnections <= 0 {
		bad("server.max_connections must be positive")
	}

	mode, err := transport.ParseMode(c.Security.Transport)
	if err != nil {
		bad("security.transport: %v", err)
	}
	if mode == transport.ModeTLS && (c.Security.CertFile == "") != (c.Security.KeyFile == "") {
		bad("security.cert_file and security.key_file must be set together")
	}
	enc, err := message.ParseEncryption(c.Security.Encryption)
	if err != nil {
		bad("security.encryption: %v", err)
	}
	if enc == message.EncryptionAES && c.Security.Seed == "" {
		bad("security.seed is required with aes encryption")
	}

	if c.Files.Enabled {
		checkPort("files.download_port", c.Files.DownloadPort)
		checkPort("files.upload_port", c.Files.UploadPort)
		if c.Files.BufferKB <= 0 {
			bad("files.buffer_kb must be positive")
		}
		if c.Files.MaxUploadSize <= 0 {
			bad("files.max_upload_size must be positive")
		}
		// storage is only opened for file transfer
		switch c.Storage.Backend {
		case "", "local":
			if c.Storage.Location == "" {
				bad("storage.location is required for the local backend")
			}
		case "minio":
			if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
				bad("storage.minio.endpoint and storage.minio.bucket are required")
			}
		default:
			bad("storage.backend %q must be local or minio", c.Storage.Backend)
		}
	}
	if c.Web.Enabled {
		checkPort("web.port", c.Web.Port)
	}
	for name, op := range c.Operations {
		if op.Dispatcher == "" || op.Command == "" {
			bad("operations.%s needs dispatcher and command", name)
		}
	}
	return errors.Join(errs...)
}

// Path resolves the config file: an explicit flag value wins over $ADMINPLANE_CONFIG,
// which wins over the per-user config directory.
func Path(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, nil
	}
	d, err := GetDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, appConfFile), nil
}

// Load reads the file at path over Default(). A missing file is created with defaults.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("opening config file: %w", err)
		}
		cfg := Default()
		if err = Save(path, cfg); err != nil {
			return Config{}, fmt.Errorf("config file not exists, creating config file: %w", err)
		}
		return cfg, nil
	}
	defer f.Close()
	return readConfig(f)
}

// Save writes c to path, creating parent directories as needed.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating/truncating config file: %w", err)
	}
	defer f.Close()
	if err = writeConfig(f, c); err != nil {
		return fmt.Errorf("writing config to file: %w", err)
	}
	return nil
}

func readConfig(r io.Reader) (Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown keys %v", ErrInvalid, undecoded)
	}
	return cfg, nil
}

func writeConfig(w io.Writer, c Config) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encoding config file: %w", err)
	}
	return nil
}
