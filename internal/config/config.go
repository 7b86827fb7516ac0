// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresuchdata/metadata-pipeline/internal/apperror"
	"github.com/andresuchdata/metadata-pipeline/internal/domain"
)

// ConfigFileEnv names the environment variable holding the config document path.
const ConfigFileEnv = "APP_CONFIG_FILE"

const envPrefix = "MDA"

type Config struct {
	Remote       RemoteConfig
	Storage      StorageConfig
	LocalFolder  string
	Files        FilesConfig
	Captions     CaptionsConfig
	SignedURLTTL time.Duration
	Cache        CacheConfig
	Log          LogConfig
}

type RemoteConfig struct {
	ClientKey        string
	ClientSecret     string
	ProjectServiceID string
	Host             string
	Timeout          time.Duration
	RateLimit        float64 // requests per second, 0 disables pacing
}

type StorageConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// FilesConfig holds the base names of the six staged files.
type FilesConfig struct {
	SegmentInput       string
	SegmentOutputJSON  string
	SegmentOutputXML   string
	CaptionsInput      string
	CaptionsOutputVTT  string
	CaptionsOutputText string
}

type CaptionsConfig struct {
	TargetLanguage string
}

type CacheConfig struct {
	Enabled       bool
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads the JSON config document at path, falling back to
// APP_CONFIG_FILE when path is empty. Environment variables prefixed with
// MDA_ override document values (e.g. MDA_STORAGE_BUCKET).
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path == "" {
		return nil, apperror.Config("load config", fmt.Errorf("no config file given and %s is unset", ConfigFileEnv))
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, apperror.Config("read config", err)
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", true)
	v.SetDefault("localFolder", ".")
	v.SetDefault("captions.targetLanguage", "en")
	v.SetDefault("signedUrlTtl", "1h")
	v.SetDefault("remote.timeout", "5m")
	v.SetDefault("remote.rateLimit", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redisHost", "127.0.0.1")
	v.SetDefault("cache.redisPort", "6379")
	v.SetDefault("cache.redisDb", 0)
	v.SetDefault("cache.ttlSeconds", 3600)
	v.SetDefault("log.level", "info")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Remote: RemoteConfig{
			ClientKey:        v.GetString("clientKey"),
			ClientSecret:     v.GetString("clientSecret"),
			ProjectServiceID: v.GetString("projectServiceId"),
			Host:             strings.TrimSuffix(v.GetString("host"), "/"),
			Timeout:          v.GetDuration("remote.timeout"),
			RateLimit:        v.GetFloat64("remote.rateLimit"),
		},
		Storage: StorageConfig{
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.accessKey"),
			SecretKey:    v.GetString("storage.secretKey"),
			SessionToken: v.GetString("storage.sessionToken"),
			UseSSL:       v.GetBool("storage.useSSL"),
		},
		LocalFolder: v.GetString("localFolder"),
		Files: FilesConfig{
			SegmentInput:       v.GetString("files.segmentInput"),
			SegmentOutputJSON:  v.GetString("files.segmentOutputJson"),
			SegmentOutputXML:   v.GetString("files.segmentOutputXml"),
			CaptionsInput:      v.GetString("files.captionsInput"),
			CaptionsOutputVTT:  v.GetString("files.captionsOutputVtt"),
			CaptionsOutputText: v.GetString("files.captionsOutputText"),
		},
		Captions: CaptionsConfig{
			TargetLanguage: v.GetString("captions.targetLanguage"),
		},
		SignedURLTTL: v.GetDuration("signedUrlTtl"),
		Cache: CacheConfig{
			Enabled:       v.GetBool("cache.enabled"),
			RedisURL:      v.GetString("cache.redisUrl"),
			RedisHost:     v.GetString("cache.redisHost"),
			RedisPort:     v.GetString("cache.redisPort"),
			RedisPassword: v.GetString("cache.redisPassword"),
			RedisDB:       v.GetInt("cache.redisDb"),
			TTLSeconds:    v.GetInt("cache.ttlSeconds"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.maxSizeMb"),
			MaxBackups: v.GetInt("log.maxBackups"),
			MaxAgeDays: v.GetInt("log.maxAgeDays"),
		},
	}
}

// Validate checks that every required value is present.
func (c *Config) Validate() error {
	required := []struct {
		value string
		name  string
	}{
		{c.Remote.ClientKey, "clientKey"},
		{c.Remote.ClientSecret, "clientSecret"},
		{c.Remote.ProjectServiceID, "projectServiceId"},
		{c.Remote.Host, "host"},
		{c.Storage.Endpoint, "storage.endpoint"},
		{c.Storage.Bucket, "storage.bucket"},
		{c.Storage.AccessKey, "storage.accessKey"},
		{c.Storage.SecretKey, "storage.secretKey"},
		{c.Files.SegmentInput, "files.segmentInput"},
		{c.Files.SegmentOutputJSON, "files.segmentOutputJson"},
		{c.Files.SegmentOutputXML, "files.segmentOutputXml"},
		{c.Files.CaptionsInput, "files.captionsInput"},
		{c.Files.CaptionsOutputVTT, "files.captionsOutputVtt"},
		{c.Files.CaptionsOutputText, "files.captionsOutputText"},
		{c.Captions.TargetLanguage, "captions.targetLanguage"},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return apperror.Config("validate config", fmt.Errorf("missing required keys: %s", strings.Join(missing, ", ")))
	}

	if c.SignedURLTTL <= 0 {
		return apperror.Config("validate config", errors.New("signedUrlTtl must be positive"))
	}
	if c.Remote.RateLimit < 0 {
		return apperror.Config("validate config", errors.New("remote.rateLimit must not be negative"))
	}

	return nil
}

// StagedFile pairs a configured base name with the local folder.
func (c *Config) StagedFile(name string) domain.StagedFile {
	return domain.StagedFile{Folder: c.LocalFolder, Name: name}
}
