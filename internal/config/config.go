package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var configLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	configLogger = l
}

// Config represents the complete configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backup   BackupConfig   `yaml:"backup"`
	Provider ProviderConfig `yaml:"provider"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
}

type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port string `yaml:"port" default:"12700"`

	// PublicURL is the externally reachable base URL, used as the webhook
	// callback address for provider watch channels.
	PublicURL string `yaml:"public_url" default:"http://localhost:12700"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" default:"./drafts.db"`
}

type BackupConfig struct {
	Bucket     string `yaml:"bucket" default:"draft-backups"`
	Region     string `yaml:"region" default:"auto"`
	Endpoint   string `yaml:"endpoint" default:""`
	PathPrefix string `yaml:"path_prefix" default:"backups"`
	Compress   bool   `yaml:"compress" default:"true"`

	SignedURLTTLMinutes int `yaml:"signed_url_ttl_minutes" default:"15"`
}

type ProviderConfig struct {
	// CredentialsFile is a Google service-account JSON key path. Empty means
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file" default:""`

	// TemplateRef is the document every new draft is copied from. Empty
	// means new drafts start blank.
	TemplateRef string `yaml:"template_ref" default:""`

	DefaultFormat string `yaml:"default_format" default:"docx"`
}

type SyncConfig struct {
	DebounceSeconds    int `yaml:"debounce_seconds" default:"5"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" default:"30"`

	WatchTTLHours     int `yaml:"watch_ttl_hours" default:"24"`
	RenewLeadMinutes  int `yaml:"renew_lead_minutes" default:"60"`
	RenewCheckMinutes int `yaml:"renew_check_minutes" default:"10"`
}

func (s SyncConfig) DebounceWindow() time.Duration {
	return time.Duration(s.DebounceSeconds) * time.Second
}

func (s SyncConfig) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutSeconds) * time.Second
}

func (s SyncConfig) WatchTTL() time.Duration {
	return time.Duration(s.WatchTTLHours) * time.Hour
}

func (s SyncConfig) RenewLead() time.Duration {
	return time.Duration(s.RenewLeadMinutes) * time.Minute
}

func (s SyncConfig) RenewCheck() time.Duration {
	return time.Duration(s.RenewCheckMinutes) * time.Minute
}

func (b BackupConfig) SignedURLTTL() time.Duration {
	return time.Duration(b.SignedURLTTLMinutes) * time.Minute
}

var AppConfig *Config

func LoadConfig(path string) error {
	config := &Config{}

	// Apply default values first
	applyDefaults(config)

	// Try to read and parse the config file
	data, err := os.ReadFile(path)
	if err != nil {
		// If file doesn't exist, just use defaults
		configLogger.Info().Str("path", path).Msg("Config file not found, using defaults")
		AppConfig = config
		return nil
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	AppConfig = config
	return nil
}

func ApplyDefaults(config interface{}) {
	applyDefaults(config)
}

func applyDefaults(config interface{}) {
	v := reflect.ValueOf(config)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.IsValid() || !field.CanSet() {
			continue
		}

		// Recursively apply defaults to nested structs
		if field.Kind() == reflect.Struct {
			applyDefaults(field.Addr().Interface())
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(defaultValue)
		case reflect.Bool:
			if val, err := strconv.ParseBool(defaultValue); err == nil {
				field.SetBool(val)
			}
		case reflect.Int:
			if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
				field.SetInt(val)
			}
		case reflect.Float64:
			if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
				field.SetFloat(val)
			}
		case reflect.Slice:
			if field.Len() == 0 && field.Type().Elem().Kind() == reflect.String {
				parts := strings.Split(defaultValue, ",")
				slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
				for j, part := range parts {
					slice.Index(j).SetString(strings.TrimSpace(part))
				}
				field.Set(slice)
			}
		default:
			configLogger.Warn().
				Str("field_name", fieldType.Name).
				Str("field_type", field.Kind().String()).
				Msg("Unsupported field type for default value")
		}
	}
}
