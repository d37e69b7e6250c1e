package config

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/qaenablers/qautils/pkg/logger"
)

// loader implements the Service interface on top of koanf.
type loader struct {
	mu         sync.Mutex
	koanf      *koanf.Koanf
	validator  *validator.Validate
	metadata   Metadata
	metadataMu sync.RWMutex
}

// sensitiveStringDecodeHook is a mapstructure decode hook that converts strings to SensitiveString
func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

// NewService creates a new configuration service with validation support.
func NewService() Service {
	v := validator.New()
	if err := RegisterCustomValidators(v); err != nil {
		panic(fmt.Sprintf("failed to register settings validators: %v", err))
	}
	return &loader{
		koanf:     koanf.New("."),
		validator: v,
		metadata: Metadata{
			Sources: make(map[string]SourceType),
		},
	}
}

// Load builds settings from defaults, then file sources in order, then the
// environment, then CLI sources. Later layers win.
func (l *loader) Load(ctx context.Context, sources ...Source) (*Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reset()
	if err := l.loadDefaults(); err != nil {
		return nil, err
	}
	isCLI := func(s Source) bool { return s.Type() == SourceCLI }
	if err := l.loadSources(sources, func(s Source) bool { return !isCLI(s) }); err != nil {
		return nil, err
	}
	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}
	if err := l.loadSources(sources, isCLI); err != nil {
		return nil, err
	}
	settings, err := l.unmarshalAndValidate()
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	l.logOverrides(log)
	log.Debug(
		"Settings loaded",
		"environment", settings.Environment.Name,
		"services", settings.ServiceNames(),
	)
	return settings, nil
}

// logOverrides reports the values set by the environment or CLI flags.
func (l *loader) logOverrides(log logger.Logger) {
	l.metadataMu.RLock()
	defer l.metadataMu.RUnlock()
	keys := make([]string, 0, len(l.metadata.Sources))
	for key, source := range l.metadata.Sources {
		if source == SourceEnv || source == SourceCLI {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		var value any = l.koanf.Get(key)
		if IsSensitiveConfigPath(key) {
			value = redacted
		}
		log.Debug("Settings value overridden", "key", key, "source", l.metadata.Sources[key], "value", value)
	}
}

func (l *loader) reset() {
	l.koanf = koanf.New(".")
	l.metadataMu.Lock()
	l.metadata.Sources = make(map[string]SourceType)
	l.metadata.LoadedAt = time.Now()
	l.metadataMu.Unlock()
}

func (l *loader) loadDefaults() error {
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range l.koanf.Keys() {
		l.trackSource(key, SourceDefault)
	}
	return nil
}

// loadEnvironment applies QAUTILS_ variables. Explicit env tags win over the
// "__" path convention.
func (l *loader) loadEnvironment() error {
	envToPath := make(map[string]string)
	for _, mapping := range GenerateEnvMappings() {
		envToPath[mapping.EnvVar] = mapping.ConfigPath
	}
	return l.track(SourceEnv, func() error {
		if err := l.koanf.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key string, value string) (string, any) {
				if configPath, exists := envToPath[key]; exists {
					return configPath, value
				}
				return transformEnvKey(key), value
			},
		}), nil); err != nil {
			return fmt.Errorf("failed to load environment variables: %w", err)
		}
		return nil
	})
}

func (l *loader) loadSources(sources []Source, include func(Source) bool) error {
	for _, source := range sources {
		if source == nil || source.Type() == SourceEnv || !include(source) {
			continue
		}
		if err := l.loadSource(source); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) loadSource(source Source) error {
	data, err := source.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", source.Type(), err)
	}
	if len(data) == 0 {
		return nil
	}
	return l.track(source.Type(), func() error {
		if err := l.koanf.Load(rawMap(data), nil); err != nil {
			return fmt.Errorf("failed to apply source %s: %w", source.Type(), err)
		}
		return nil
	})
}

// track runs apply and attributes every added or changed key to source.
func (l *loader) track(source SourceType, apply func() error) error {
	before := make(map[string]any)
	for _, key := range l.koanf.Keys() {
		before[key] = l.koanf.Get(key)
	}
	if err := apply(); err != nil {
		return err
	}
	for _, key := range l.koanf.Keys() {
		prev, existed := before[key]
		// Leaf values may be slices, which are not comparable with ==.
		if !existed || !reflect.DeepEqual(prev, l.koanf.Get(key)) {
			l.trackSource(key, source)
		}
	}
	return nil
}

func (l *loader) unmarshalAndValidate() (*Settings, error) {
	var settings Settings
	if err := l.koanf.UnmarshalWithConf("", &settings, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &settings,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if settings.Services == nil {
		settings.Services = map[string]ServiceConfig{}
	}
	if err := l.Validate(&settings); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return &settings, nil
}

// Validate checks struct tags and the cross-field rules of each service.
func (l *loader) Validate(settings *Settings) error {
	if settings == nil {
		return fmt.Errorf("settings cannot be nil")
	}
	if err := l.validator.Struct(settings); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := l.validateCustom(settings); err != nil {
		return fmt.Errorf("custom validation failed: %w", err)
	}
	return nil
}

// GetSource returns the source type for a specific settings key.
func (l *loader) GetSource(key string) SourceType {
	l.metadataMu.RLock()
	defer l.metadataMu.RUnlock()
	if source, ok := l.metadata.Sources[key]; ok {
		return source
	}
	return SourceDefault
}

func (l *loader) trackSource(key string, source SourceType) {
	l.metadataMu.Lock()
	defer l.metadataMu.Unlock()
	l.metadata.Sources[key] = source
}

func (l *loader) validateCustom(settings *Settings) error {
	for _, name := range settings.ServiceNames() {
		svc := settings.Services[name]
		if svc.Protocol != "" && svc.Host == "" {
			return fmt.Errorf("service %q: host is required when protocol is set", name)
		}
		if svc.ServiceLogPath != "" && svc.HostUser == "" {
			return fmt.Errorf("service %q: host_user is required to read service logs", name)
		}
	}
	return nil
}

// rawMap is a koanf.Provider adapter for map[string]any data.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
