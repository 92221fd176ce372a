package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/toscrape-books/internal/proxy"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one authenticated GET through the proxy and print the body",
		Long: `Checks that the configured proxy accepts the credentials by fetching
probe.url (an IP echo service by default) and printing the response.`,
		RunE: runProbeCommand,
	}
	cmd.Flags().String("probe-url", "http://ip.oxylabs.io", "URL to fetch through the proxy")
	return cmd
}

func runProbeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	proxyURL, err := resolveProxy(cfg, logger)
	if err != nil {
		return err
	}

	body, err := proxy.NewProber(proxyURL, cfg.RequestTimeout(), logger.Named("probe")).
		Probe(cmd.Context(), cfg.Probe.URL)
	if err != nil {
		return err
	}
	logger.Info("probe succeeded", zap.String("url", cfg.Probe.URL))
	fmt.Fprintln(cmd.OutOrStdout(), body)
	return nil
}
