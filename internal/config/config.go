package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		APIKey          string        `yaml:"apiKey"`
		AllowedOrigins  []string      `yaml:"allowedOrigins"`
		// SubmitRate is submissions per second allowed per client, SubmitBurst the bucket size.
		SubmitRate  float64 `yaml:"submitRate"`
		SubmitBurst int     `yaml:"submitBurst"`
		// Uploads are spooled to UploadDir so retries can re-read them.
		UploadDir   string `yaml:"uploadDir"`
		MaxUploadMB int64  `yaml:"maxUploadMB"`
	} `yaml:"server"`

	Detector struct {
		BaseURL string `yaml:"baseURL"`
		// HealthTimeout bounds the detector reachability check behind /health.
		HealthTimeout time.Duration `yaml:"healthTimeout"`
	} `yaml:"detector"`

	Sessions struct {
		MaxSessions int           `yaml:"maxSessions"`
		IdleTTL     time.Duration `yaml:"idleTTL"`
	} `yaml:"sessions"`

	Preview struct {
		// Backend is "tempdir", "minio" or "none".
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"preview"`

	Minio struct {
		Endpoint   string        `yaml:"endpoint"`
		AccessKey  string        `yaml:"accessKey"`
		SecretKey  string        `yaml:"secretKey"`
		BucketName string        `yaml:"bucketName"`
		Region     string        `yaml:"region"`
		UseSSL     bool          `yaml:"useSSL"`
		URLExpiry  time.Duration `yaml:"urlExpiry"`
	} `yaml:"minio"`

	Log struct {
		// Level is debug, info, warn or error.
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load baca .env (kalau ada), file config.yaml, lalu override dari env. A missing config file
// is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Detector.BaseURL, "DETECTOR_URL")
	setString(&c.Server.APIKey, "BRIDGE_API_KEY")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Preview.Backend, "PREVIEW_BACKEND")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		c.Server.Port = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.SubmitRate == 0 {
		c.Server.SubmitRate = 1
	}
	if c.Server.SubmitBurst == 0 {
		c.Server.SubmitBurst = 5
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./temp/uploads"
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 512
	}
	if c.Detector.BaseURL == "" {
		c.Detector.BaseURL = "http://localhost:5000"
	}
	if c.Detector.HealthTimeout == 0 {
		c.Detector.HealthTimeout = 2 * time.Second
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = 1024
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = 30 * time.Minute
	}
	if c.Preview.Backend == "" {
		c.Preview.Backend = "tempdir"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects values the binaries cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if u, err := url.Parse(c.Detector.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("detector.baseURL %q is not an http(s) url", c.Detector.BaseURL))
	}
	if c.Server.MaxUploadMB < 0 {
		errs = append(errs, errors.New("server.maxUploadMB must not be negative"))
	}
	if c.Server.SubmitRate < 0 || c.Server.SubmitBurst < 0 {
		errs = append(errs, errors.New("server.submitRate and server.submitBurst must not be negative"))
	}
	switch c.Preview.Backend {
	case "tempdir", "none":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required for the minio preview backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("preview.backend %q unknown", c.Preview.Backend))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger from the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
