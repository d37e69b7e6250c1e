package config

import (
	"reflect"
	"strings"
	"sync"
)

// EnvMapping binds an environment variable to a settings path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

const serviceWildcard = "services.*"

var (
	envMappings = sync.OnceValue(func() []EnvMapping {
		var mappings []EnvMapping
		walkSettingsFields(reflect.TypeOf(Settings{}), "", func(path string, field reflect.StructField) {
			if name := field.Tag.Get("env"); name != "" && name != "-" {
				mappings = append(mappings, EnvMapping{EnvVar: name, ConfigPath: path})
			}
		})
		return mappings
	})

	sensitivePaths = sync.OnceValue(func() map[string]bool {
		paths := make(map[string]bool)
		mark := func(path string, field reflect.StructField) {
			if field.Type == reflect.TypeOf(SensitiveString("")) || field.Tag.Get("sensitive") == "true" {
				paths[path] = true
			}
		}
		walkSettingsFields(reflect.TypeOf(Settings{}), "", mark)
		walkSettingsFields(reflect.TypeOf(ServiceConfig{}), serviceWildcard, mark)
		return paths
	})
)

// GenerateEnvMappings lists the variables declared with env tags on
// Settings.
func GenerateEnvMappings() []EnvMapping {
	return envMappings()
}

// walkSettingsFields visits every koanf-tagged field of t with its dotted
// path, descending into nested structs.
func walkSettingsFields(t reflect.Type, prefix string, visit func(string, reflect.StructField)) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		visit(path, field)
		if field.Type.Kind() == reflect.Struct {
			walkSettingsFields(field.Type, path, visit)
		}
	}
}

// transformEnvKey converts prefixed variables that use "__" as the path
// separator: QAUTILS_SERVICES__KEYSTONE__HOST_USER -> services.keystone.host_user.
// Variables without a separator do not map to a settings path.
func transformEnvKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if !strings.Contains(s, "__") {
		return ""
	}
	parts := strings.Split(strings.ToLower(s), "__")
	for _, part := range parts {
		if part == "" {
			return ""
		}
	}
	return strings.Join(parts, ".")
}

// IsSensitiveConfigPath reports whether a settings path holds a secret.
// Service entries are matched on their field name.
func IsSensitiveConfigPath(configPath string) bool {
	parts := strings.Split(configPath, ".")
	if len(parts) == 3 && parts[0] == "services" {
		configPath = serviceWildcard + "." + parts[2]
	}
	return sensitivePaths()[configPath]
}
