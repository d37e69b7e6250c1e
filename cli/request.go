package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qaenablers/qautils/pkg/config"
	"github.com/qaenablers/qautils/pkg/logger"
	"github.com/qaenablers/qautils/pkg/restclient"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type requestOptions struct {
	service     string
	body        string
	model       string
	rootElement string
	contentType string
	headers     map[string]string
	query       map[string]string
	params      map[string]string
	txid        bool
	tlsVerify   bool
	retries     int
	timeout     time.Duration
	fail        bool
}

// RequestCmd sends one request to a configured service.
func RequestCmd() *cobra.Command {
	opts := &requestOptions{}
	cmd := &cobra.Command{
		Use:   "request <method> <uri-pattern>",
		Short: "Send a request to a configured service",
		Long: `Send a request to a service of the settings document. The URI pattern may
use {api_root_url} and {name} placeholders filled from --param.

  qautils request GET '{api_root_url}/tenants/{tenant}' --service keystone --param tenant=t1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, args[0], args[1], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.service, "service", "", "Service name in the settings document")
	flags.StringVar(&opts.body, "body", "", "Raw request body")
	flags.StringVar(&opts.model, "model", "", "JSON file with a model to encode as the body")
	flags.StringVar(&opts.rootElement, "root-element", "", "Root element of the encoded model")
	flags.StringVar(&opts.contentType, "content-type", restclient.RepresentationJSON, "Request representation")
	flags.StringToStringVarP(&opts.headers, "header", "H", nil, "Extra headers (NAME=VALUE)")
	flags.StringToStringVarP(&opts.query, "query", "q", nil, "Query parameters (NAME=VALUE)")
	flags.StringToStringVarP(&opts.params, "param", "p", nil, "URI placeholder values (NAME=VALUE)")
	flags.BoolVar(&opts.txid, "txid", false, "Send a generated transaction id header")
	flags.BoolVar(&opts.tlsVerify, "tls-verify", false, "Verify server certificates")
	flags.IntVar(&opts.retries, "retries", 0, "Retries on 5xx, 408 and 429 responses")
	flags.DurationVar(&opts.timeout, "timeout", restclient.DefaultTimeout, "Request timeout")
	flags.BoolVar(&opts.fail, "fail", false, "Exit with an error on non-2xx responses")
	cmd.MarkFlagsMutuallyExclusive("body", "model")
	if err := cmd.MarkFlagRequired("service"); err != nil {
		panic(err)
	}
	return cmd
}

func runRequest(cmd *cobra.Command, method, uriPattern string, opts *requestOptions) error {
	ctx := cmd.Context()
	settings := config.FromContext(ctx)
	svc, ok := settings.Service(opts.service)
	if !ok {
		return fmt.Errorf("service %q is not configured", opts.service)
	}
	body, err := requestBody(opts)
	if err != nil {
		return err
	}
	clientOpts := []restclient.Option{
		restclient.WithTLSVerify(opts.tlsVerify),
		restclient.WithTimeout(opts.timeout),
	}
	if opts.txid {
		clientOpts = append(clientOpts, restclient.WithTransactionID())
	}
	if opts.retries > 0 {
		clientOpts = append(clientOpts, restclient.WithRetry(opts.retries, 500*time.Millisecond))
	}
	headers := map[string]string{restclient.HeaderContentType: opts.contentType}
	for name, value := range opts.headers {
		headers[name] = value
	}

	client := restclient.NewFromService(svc, clientOpts...)
	resp, err := client.LaunchRequest(ctx, method, uriPattern, restclient.Request{
		Body:       body,
		Headers:    headers,
		Query:      opts.query,
		PathParams: opts.params,
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("Response received", "status", resp.StatusCode(), "duration", resp.Time())
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, logger.PrettyBody(resp.Header(), resp.String())); err != nil {
		return err
	}
	if opts.fail && !resp.IsSuccess() {
		return fmt.Errorf("request failed with status %s", resp.Status())
	}
	return nil
}

// requestBody returns --body as is, or encodes the --model document in
// the request representation after dropping its empty elements.
func requestBody(opts *requestOptions) (string, error) {
	if opts.model == "" {
		return opts.body, nil
	}
	data, err := afero.ReadFile(afero.NewOsFs(), opts.model)
	if err != nil {
		return "", fmt.Errorf("failed to read model: %w", err)
	}
	var model map[string]any
	if err := json.Unmarshal(data, &model); err != nil {
		return "", fmt.Errorf("model %s is not a JSON object: %w", opts.model, err)
	}
	if model == nil {
		return "", fmt.Errorf("model %s is not a JSON object", opts.model)
	}
	restclient.DeleteElementWhenValueNone(model)
	return restclient.ModelToRequestBody(model, opts.contentType, opts.rootElement)
}
