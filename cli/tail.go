package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qaenablers/qautils/pkg/config"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/qaenablers/qautils/pkg/remotetail"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type tailOptions struct {
	service         string
	files           []string
	knownHosts      string
	insecureHostKey bool
	duration        time.Duration
	startDelay      time.Duration
	gracePeriod     time.Duration
}

// TailCmd captures the remote logs of a service until interrupted.
func TailCmd() *cobra.Command {
	opts := &tailOptions{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Capture the remote logs of a service",
		Long: `Follow the service_log_file_names of a service over SSH and copy the new
lines into remote_logs.capture_local_path until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTail(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.service, "service", "", "Service name in the settings document")
	flags.StringSliceVar(&opts.files, "file", nil, "Remote log file names (defaults to service_log_file_names)")
	flags.StringVar(&opts.knownHosts, "known-hosts", "", "known_hosts file (defaults to ~/.ssh/known_hosts)")
	flags.BoolVar(&opts.insecureHostKey, "insecure-host-key", false, "Skip host key verification")
	flags.DurationVar(&opts.duration, "duration", 0, "Stop after this duration (0 runs until interrupted)")
	flags.DurationVar(&opts.startDelay, "start-delay", remotetail.DefaultStartDelay, "Wait after connecting")
	flags.DurationVar(&opts.gracePeriod, "grace-period", remotetail.DefaultGracePeriod, "Wait before disconnecting")
	if err := cmd.MarkFlagRequired("service"); err != nil {
		panic(err)
	}
	return cmd
}

func runTail(cmd *cobra.Command, opts *tailOptions) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	settings := config.FromContext(ctx)
	svc, ok := settings.Service(opts.service)
	if !ok {
		return fmt.Errorf("service %q is not configured", opts.service)
	}
	target := settings.RemoteLogs.CaptureLocalPath
	if target == "" {
		return fmt.Errorf("remote_logs.capture_local_path is not configured")
	}
	files := opts.files
	if len(files) == 0 {
		files = svc.ServiceLogFileNames
	}
	if len(files) == 0 {
		return fmt.Errorf("service %q has no service_log_file_names", opts.service)
	}
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("failed to create remote log directory %s: %w", target, err)
	}

	// Tailers outlive ctx so the grace period still captures trailing lines.
	runCtx := context.WithoutCancel(ctx)
	tailers := make([]*remotetail.Tailer, 0, len(files))
	stopAll := func() error {
		var group errgroup.Group
		for _, t := range tailers {
			group.Go(t.Stop)
		}
		return group.Wait()
	}
	for _, file := range files {
		cfg := remotetail.ConfigFromService(svc, file, target)
		cfg.KnownHostsPath = opts.knownHosts
		cfg.InsecureSkipHostKeyChecking = opts.insecureHostKey
		cfg.StartDelay = 0
		cfg.GracePeriod = opts.gracePeriod
		tailer := remotetail.New(cfg, remotetail.WithFs(fs))
		if err := tailer.Start(runCtx); err != nil {
			return errors.Join(err, stopAll())
		}
		tailers = append(tailers, tailer)
	}
	time.Sleep(opts.startDelay)
	log.Info("Capturing remote logs", "service", opts.service, "files", files, "target", target)

	waitCtx := ctx
	if opts.duration > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}
	<-waitCtx.Done()

	log.Info("Stopping remote log capture", "service", opts.service)
	if err := stopAll(); err != nil {
		return err
	}
	for _, t := range tailers {
		log.Debug("Remote log captured", "lines", t.Lines())
	}
	return nil
}
