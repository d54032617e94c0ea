package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/superset_xblock/pkg/embed"
)

const (
	commandUseName          = "tokenprobe"
	commandShortDescription = "Fetch a Superset guest token the way the embedded page does"
	flagNameURL             = "url"
	flagNameFromXBlock      = "from-xblock"
	flagNameCookie          = "cookie"
	flagNameTimeout         = "timeout"
	environmentPrefix       = "TOKEN_PROBE"
	defaultTimeout          = 10 * time.Second
)

var errMissingURL = errors.New("missing --url")

// newRootCommand wires the probe to out; the token is the only thing written there.
func newRootCommand(out io.Writer, logger *zap.Logger) *cobra.Command {
	configuration := viper.New()
	configuration.SetEnvPrefix(environmentPrefix)
	configuration.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	configuration.AutomaticEnv()
	configuration.SetDefault(flagNameTimeout, defaultTimeout)

	command := &cobra.Command{
		Use:           commandUseName,
		Short:         commandShortDescription,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(command *cobra.Command, _ []string) error {
			guestTokenURL := strings.TrimSpace(configuration.GetString(flagNameURL))
			if guestTokenURL == "" {
				return errMissingURL
			}
			fetcher, fetcherErr := embed.NewHTTPTokenFetcher(embed.TokenFetcherConfig{
				GuestTokenURL: guestTokenURL,
				FromXBlock:    configuration.GetBool(flagNameFromXBlock),
				Cookies:       embed.StaticCookies(configuration.GetString(flagNameCookie)),
				HTTPClient:    &http.Client{Timeout: configuration.GetDuration(flagNameTimeout)},
			}, logger)
			if fetcherErr != nil {
				return fetcherErr
			}
			ctx := command.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			token, tokenErr := fetcher.FetchGuestToken(ctx)
			if tokenErr != nil {
				return tokenErr
			}
			_, writeErr := fmt.Fprintln(out, token)
			return writeErr
		},
	}

	command.Flags().String(flagNameURL, "", "Guest token endpoint, e.g. https://lms.example.com/superset_guest_token/course-v1:edX+DemoX+Demo_Course")
	command.Flags().Bool(flagNameFromXBlock, false, "POST an empty JSON body as the XBlock handler expects")
	command.Flags().String(flagNameCookie, "", "Raw Cookie header carrying the LMS session and csrftoken")
	command.Flags().Duration(flagNameTimeout, defaultTimeout, "Request timeout")
	for _, flagName := range []string{flagNameURL, flagNameFromXBlock, flagNameCookie, flagNameTimeout} {
		_ = configuration.BindPFlag(flagName, command.Flags().Lookup(flagName))
	}
	return command
}

func main() {
	logger, loggerErr := zap.NewDevelopment()
	if loggerErr != nil {
		_, _ = fmt.Fprintf(os.Stderr, "logger: %v\n", loggerErr)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := newRootCommand(os.Stdout, logger).Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "tokenprobe: %v\n", err)
		os.Exit(1)
	}
}
