package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ourlibrary/ourlibrary/client/tokenclient"
	"github.com/ourlibrary/ourlibrary/cmd/flags"
	"github.com/ourlibrary/ourlibrary/database/tokens"
	"github.com/ourlibrary/ourlibrary/rpc"
	logutil "github.com/ourlibrary/ourlibrary/utils/log"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage distribution tokens",
}

var (
	tokenTier         string
	tokenMaxDownloads int
	tokenExpiresIn    string
	tokenRemark       string
	tokenStatus       string
	tokenFileID       string
	tokenVersion      string
	tokenForce        bool
)

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a distribution token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		expiresIn, err := ParseDuration(tokenExpiresIn)
		if err != nil {
			return err
		}
		if err := openLedger(); err != nil {
			return err
		}
		params := tokens.CreateParams{Tier: tokenTier, ExpiresIn: expiresIn, Remark: tokenRemark}
		if tokenMaxDownloads > 0 {
			params.MaxDownloads = &tokenMaxDownloads
		}
		tok, err := tokens.Create(params)
		if err != nil {
			return err
		}
		return printJSON(cmd, tok)
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a distribution token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openLedger(); err != nil {
			return err
		}
		tok, err := tokens.Revoke(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, tok)
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List distribution tokens",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := openLedger(); err != nil {
			return err
		}
		list, err := tokens.List(tokens.Filter{Status: tokenStatus})
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue-url <token>",
	Short: "Request a signed download URL from a running issuer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := newTokenService()
		if err != nil {
			return err
		}
		defer closeFn()
		ctx, cancel := context.WithTimeout(cmd.Context(), flags.ControlTimeout)
		defer cancel()
		grant, err := svc.RequestSignedURL(ctx, tokenclient.Request{
			Token:        args[0],
			FileID:       tokenFileID,
			Version:      tokenVersion,
			ForceRefresh: tokenForce,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, grant)
	},
}

// newTokenService 按 --token-transport 创建签发客户端
func newTokenService() (*tokenclient.Service, func(), error) {
	opts := tokenclient.Options{
		MaxRetries: flags.TokenRetries,
		Log:        logutil.Sink(slog.Default(), "tokenclient"),
	}
	switch flags.TokenTransport {
	case "", "http":
		if flags.TokenEndpoint == "" {
			return nil, nil, tokenclient.ErrEndpointNotConfigured
		}
		opts.Transport = tokenclient.NewHTTPTransport(flags.TokenEndpoint, &http.Client{Timeout: flags.ControlTimeout})
		return tokenclient.New(opts), func() {}, nil
	case "grpc":
		if flags.TokenEndpoint == "" {
			return nil, nil, tokenclient.ErrEndpointNotConfigured
		}
		conn, err := rpc.Dial(flags.TokenEndpoint, false)
		if err != nil {
			return nil, nil, err
		}
		opts.Transport = tokenclient.NewGRPCTransport(rpc.NewClient(conn))
		return tokenclient.New(opts), func() { conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported token transport: %s", flags.TokenTransport)
	}
}

func addTokenClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flags.TokenEndpoint, "token-endpoint", GetEnv(flagNameToEnvVar("token-endpoint"), ""), "Issuer endpoint (HTTP URL or gRPC host:port)")
	f.StringVar(&flags.TokenTransport, "token-transport", GetEnv(flagNameToEnvVar("token-transport"), "http"), "Issuer transport (http, grpc)")
	f.Uint64Var(&flags.TokenRetries, "token-retries", getEnvUint(flagNameToEnvVar("token-retries"), 0), "Retries for failed issuer requests")
	f.DurationVar(&flags.ControlTimeout, "control-timeout", getEnvDuration(flagNameToEnvVar("control-timeout"), tokenclient.DefaultHTTPTimeout), "Timeout for manifest and issuer requests")
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenTier, "tier", "basic", "Entitlement tier")
	tokenCreateCmd.Flags().IntVar(&tokenMaxDownloads, "max-downloads", 0, "Download quota, 0 for unlimited")
	tokenCreateCmd.Flags().StringVar(&tokenExpiresIn, "expires-in", "", "Token lifetime, e.g. 30d or 12h; empty never expires")
	tokenCreateCmd.Flags().StringVar(&tokenRemark, "remark", "", "Free-form note")

	tokenListCmd.Flags().StringVar(&tokenStatus, "status", "", "Filter by status (active, revoked)")

	tokenIssueCmd.Flags().StringVar(&tokenFileID, "file-id", "", "Archive file id")
	tokenIssueCmd.Flags().StringVar(&tokenVersion, "version", "", "Archive version")
	tokenIssueCmd.Flags().BoolVar(&tokenForce, "force", false, "Bypass the local grant cache")
	addTokenClientFlags(tokenIssueCmd)

	tokenCmd.AddCommand(tokenCreateCmd, tokenRevokeCmd, tokenListCmd, tokenIssueCmd)
	RootCmd.AddCommand(tokenCmd)
}
