package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/qaenablers/qautils/pkg/config"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// settingsFlags are the persistent flags that override a setting.
var settingsFlags = []string{"environment", "capture-local-path"}

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qautils",
		Short:         "Fixture normalization and test support utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}

	addGlobalFlags(root)
	root.AddCommand(
		NormalizeCmd(),
		ExecCmd(),
		RequestCmd(),
		TailCmd(),
		ConfigCmd(),
		VersionCmd(),
	)

	return root
}

// Execute runs root and then releases the log file and settings watcher
// opened by SetupGlobalConfig, also when the command failed.
func Execute(ctx context.Context, root *cobra.Command) error {
	return execute(ctx, root, &resources{})
}

func execute(ctx context.Context, root *cobra.Command, res *resources) error {
	err := root.ExecuteContext(context.WithValue(ctx, resourcesKey{}, res))
	if releaseErr := res.release(); releaseErr != nil {
		return errors.Join(err, releaseErr)
	}
	return err
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	logger.AddFlags(flags)
	flags.String("settings", config.DefaultSettingsPath, "Path to the settings document")
	flags.String("environment", "", "Name of the environment under test")
	flags.String("capture-local-path", "", "Directory remote logs are captured into")
}

// SetupGlobalConfig configures logging and loads the settings, then stores
// both in the command context. A missing settings file is only an error
// when --settings was given explicitly.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logConfig, err := logger.GetLoggerConfig(cmd.Flags())
	if err != nil {
		return err
	}
	log, closeLog, err := logger.SetupLogger(logConfig)
	if err != nil {
		return err
	}
	res, _ := ctx.Value(resourcesKey{}).(*resources)
	res.add(closeLog)
	ctx = logger.ContextWithLogger(ctx, log)

	settingsPath, err := cmd.Flags().GetString("settings")
	if err != nil {
		return fmt.Errorf("failed to get settings flag: %w", err)
	}
	fs := afero.NewOsFs()
	sources, err := settingsSources(cmd, log, fs, settingsPath)
	if err != nil {
		return err
	}

	manager := config.NewManager(nil)
	res.add(func() error { return manager.Close(ctx) })
	if _, err := manager.Load(ctx, sources...); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	cmd.SetContext(config.ContextWithManager(ctx, manager))
	return nil
}

func settingsSources(cmd *cobra.Command, log logger.Logger, fs afero.Fs, settingsPath string) ([]config.Source, error) {
	var sources []config.Source
	_, statErr := fs.Stat(settingsPath)
	switch {
	case statErr == nil:
		envPath := filepath.Join(filepath.Dir(settingsPath), ".env")
		if err := config.LoadDotEnv(fs, envPath); err != nil {
			return nil, err
		}
		sources = append(sources, config.NewFileProviderFs(fs, settingsPath))
	case cmd.Flags().Changed("settings"):
		return nil, fmt.Errorf("%w: %s", config.ErrSettingsNotFound, settingsPath)
	case !errors.Is(statErr, afero.ErrFileNotFound):
		return nil, fmt.Errorf("failed to stat settings file %s: %w", settingsPath, statErr)
	default:
		log.Debug("No settings file found, using defaults", "path", settingsPath)
	}

	cliFlags, err := extractCLIFlags(cmd)
	if err != nil {
		return nil, err
	}
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	return sources, nil
}

// extractCLIFlags collects the settings flags the user set explicitly.
func extractCLIFlags(cmd *cobra.Command) (map[string]any, error) {
	flags := make(map[string]any)
	for _, name := range settingsFlags {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		value, err := flagValue(flag)
		if err != nil {
			return nil, err
		}
		flags[name] = value
	}
	return flags, nil
}

func flagValue(flag *pflag.Flag) (any, error) {
	if flag.Value.Type() != "string" {
		return nil, fmt.Errorf("unsupported settings flag type %s for --%s", flag.Value.Type(), flag.Name)
	}
	return flag.Value.String(), nil
}

type resourcesKey struct{}

// resources collects what a command run has to release. A nil *resources
// ignores additions, for commands executed without Execute.
type resources struct {
	mu       sync.Mutex
	closers  []func() error
	released bool
}

func (r *resources) add(closer func() error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, closer)
}

// release runs the closers in reverse order. Later calls are no-ops.
func (r *resources) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}
