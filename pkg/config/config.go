package config

import (
	"context"
	"errors"
	"sort"
	"time"
)

const (
	// DefaultSettingsPath is where projects keep their settings document.
	DefaultSettingsPath = "./settings/settings.json"
	// EnvPrefix scopes the environment variables that override settings.
	EnvPrefix = "QAUTILS_"
)

var (
	ErrSettingsNotFound  = errors.New("settings file not found")
	ErrSettingsMalformed = errors.New("settings file is malformed")
)

// Settings is the typed view of a project's settings document.
type Settings struct {
	Environment EnvironmentConfig        `koanf:"environment" json:"environment" mapstructure:"environment"`
	RemoteLogs  RemoteLogsConfig         `koanf:"remote_logs" json:"remote_logs" mapstructure:"remote_logs"`
	Services    map[string]ServiceConfig `koanf:"services"    json:"services"    mapstructure:"services"    validate:"dive"`
}

// EnvironmentConfig names the environment the suite runs against.
type EnvironmentConfig struct {
	Name string `koanf:"name" json:"name" mapstructure:"name" env:"QAUTILS_ENVIRONMENT_NAME"`
}

// RemoteLogsConfig controls where captured remote logs are written.
type RemoteLogsConfig struct {
	CaptureLocalPath string `koanf:"capture_local_path" json:"capture_local_path" mapstructure:"capture_local_path" env:"QAUTILS_REMOTE_LOGS_CAPTURE_LOCAL_PATH"`
}

// ServiceConfig describes one service under test: how to reach its API and
// how to reach the host it runs on.
type ServiceConfig struct {
	Protocol string `koanf:"protocol" json:"protocol" mapstructure:"protocol" validate:"omitempty,oneof=http https"`
	Host     string `koanf:"host"     json:"host"     mapstructure:"host"`
	Port     string `koanf:"port"     json:"port"     mapstructure:"port"     validate:"omitempty,service_port"`
	Resource string `koanf:"resource" json:"resource" mapstructure:"resource"`

	HostUser               string          `koanf:"host_user"                 json:"host_user"                 mapstructure:"host_user"`
	HostPassword           SensitiveString `koanf:"host_password"             json:"host_password"             mapstructure:"host_password"`
	HostPrivateKeyLocation string          `koanf:"host_private_key_location" json:"host_private_key_location" mapstructure:"host_private_key_location"`
	ServiceLogPath         string          `koanf:"service_log_path"          json:"service_log_path"          mapstructure:"service_log_path"`
	ServiceLogFileNames    []string        `koanf:"service_log_file_names"    json:"service_log_file_names"    mapstructure:"service_log_file_names"`

	OSUsername   string          `koanf:"os_username"    json:"os_username"    mapstructure:"os_username"`
	OSPassword   SensitiveString `koanf:"os_password"    json:"os_password"    mapstructure:"os_password"`
	OSTenantID   string          `koanf:"os_tenant_id"   json:"os_tenant_id"   mapstructure:"os_tenant_id"`
	OSTenantName string          `koanf:"os_tenant_name" json:"os_tenant_name" mapstructure:"os_tenant_name"`
	OSDomainName string          `koanf:"os_domain_name" json:"os_domain_name" mapstructure:"os_domain_name"`
	OSAuthURL    string          `koanf:"os_auth_url"    json:"os_auth_url"    mapstructure:"os_auth_url"`
}

// Service looks up a service entry by name.
func (s *Settings) Service(name string) (ServiceConfig, bool) {
	if s == nil {
		return ServiceConfig{}, false
	}
	svc, ok := s.Services[name]
	return svc, ok
}

// ServiceNames returns the configured service names in sorted order.
func (s *Settings) ServiceNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the settings used when no source provides a value.
func Default() *Settings {
	return &Settings{
		Services: map[string]ServiceConfig{},
	}
}

// Service defines the configuration loading contract.
type Service interface {
	Load(ctx context.Context, sources ...Source) (*Settings, error)
	Validate(settings *Settings) error
	GetSource(key string) SourceType
}

// Source is one layer of configuration data.
type Source interface {
	Load() (map[string]any, error)
	Watch(ctx context.Context, callback func()) error
	Type() SourceType
	Close() error
}

type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceFile    SourceType = "file"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Metadata records where each loaded key came from.
type Metadata struct {
	Sources  map[string]SourceType
	LoadedAt time.Time
}
