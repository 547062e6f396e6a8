package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ourlibrary/ourlibrary/client/bootstrap"
	"github.com/ourlibrary/ourlibrary/client/fetcher"
	"github.com/ourlibrary/ourlibrary/client/manifest"
	"github.com/ourlibrary/ourlibrary/cmd/flags"
	"github.com/ourlibrary/ourlibrary/ws"
	"github.com/spf13/cobra"
)

var installToken string

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or update the local content database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var observers bootstrap.Observers
		observers = append(observers, bootstrap.ObserverFuncs{
			Progress: func(e bootstrap.ProgressEvent) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", e.Step, e.Message)
			},
		})
		if flags.EventsListen != "" {
			hub, shutdown, err := serveEvents(flags.EventsListen)
			if err != nil {
				return err
			}
			defer shutdown()
			observers = append(observers, hub)
		}

		b, closeFn, err := newBootstrap(observers)
		if err != nil {
			return err
		}
		defer closeFn()

		if installToken != "" {
			if err := b.InitializeFileSystem(ctx); err != nil {
				return err
			}
			if err := b.SetDistributionToken(installToken); err != nil {
				return err
			}
		}

		res := b.PerformFullInstallation(ctx)
		if err := printJSON(cmd, struct {
			bootstrap.Result
			Status bootstrap.Status `json:"status"`
		}{res, b.InstallationStatus()}); err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the local installation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, closeFn, err := newBootstrap(nil)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := b.InitializeFileSystem(cmd.Context()); err != nil {
			return err
		}
		v := b.VerifyInstallation(cmd.Context())
		if err := printJSON(cmd, v); err != nil {
			return err
		}
		if !v.Verified {
			return errors.New(v.Error)
		}
		return nil
	},
}

var downloadDest string

var downloadCmd = &cobra.Command{
	Use:   "download <file-id> <version>",
	Short: "Download a single content file with the stored distribution token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		b, closeFn, err := newBootstrap(nil)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := b.InitializeFileSystem(ctx); err != nil {
			return err
		}
		dl, err := b.DownloadContent(ctx, args[0], args[1], downloadDest)
		if err != nil {
			return err
		}
		return printJSON(cmd, dl)
	},
}

func newBootstrap(observer bootstrap.Observer) (*bootstrap.Bootstrap, func(), error) {
	opts := bootstrap.Options{
		Root:                   flags.InstallRoot,
		AppVersion:             flags.AppVersion,
		ManifestURL:            flags.ManifestURL,
		FallbackPath:           flags.FallbackPath,
		ResourcesDir:           flags.ResourcesDir,
		ControlTimeout:         flags.ControlTimeout,
		ContentTimeout:         flags.ContentTimeout,
		Observer:               observer,
		Logger:                 slog.Default(),
		ProceedOnManifestError: flags.ProceedOffline,
	}
	closeFn := func() {}
	if flags.TokenEndpoint != "" {
		svc, c, err := newTokenService()
		if err != nil {
			return nil, nil, err
		}
		opts.Tokens = svc
		closeFn = c
	}
	b, err := bootstrap.New(opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return b, closeFn, nil
}

// serveEvents 在 addr 上提供 /events websocket，供界面外壳订阅安装进度
func serveEvents(addr string) (*ws.Hub, func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen events: %w", err)
	}
	hub := ws.NewHub()
	mux := http.NewServeMux()
	mux.Handle("/events", hub)
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("events server stopped: %v", err)
		}
	}()
	log.Printf("Publishing installation events on ws://%s/events", lis.Addr())
	return hub, func() {
		hub.Close()
		srv.Shutdown(context.Background())
	}, nil
}

func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flags.InstallRoot, "root", GetEnv(flagNameToEnvVar("root"), ""), "Installation root, defaults to ~/OurLibrary")
	f.StringVar(&flags.ManifestURL, "manifest-url", GetEnv(flagNameToEnvVar("manifest-url"), bootstrap.DefaultManifestURL), "Remote manifest URL")
	f.StringVar(&flags.FallbackPath, "manifest-fallback", GetEnv(manifest.FallbackEnv, ""), "Local manifest used when the remote one is unavailable")
	f.StringVar(&flags.ResourcesDir, "resources-dir", GetEnv(flagNameToEnvVar("resources-dir"), ""), "Packaged resources directory searched for a fallback manifest")
	f.StringVar(&flags.AppVersion, "app-version", GetEnv(flagNameToEnvVar("app-version"), "1.0.0"), "Application version recorded in the config")
	f.DurationVar(&flags.ContentTimeout, "content-timeout", getEnvDuration(flagNameToEnvVar("content-timeout"), fetcher.DefaultTimeout), "Connect and header timeout for content downloads, also the longest allowed gap between received bytes")
	f.BoolVar(&flags.ProceedOffline, "proceed-offline", getEnvBool(flagNameToEnvVar("proceed-offline"), false), "Create a placeholder database when no manifest is available")
	addTokenClientFlags(cmd)
}

func init() {
	addClientFlags(installCmd)
	installCmd.Flags().StringVar(&installToken, "token", GetEnv(bootstrap.TokenEnv, ""), "Distribution token to store before installing")
	installCmd.Flags().StringVar(&flags.EventsListen, "events-listen", GetEnv(flagNameToEnvVar("events-listen"), ""), "Address for the websocket event stream, empty to disable")

	addClientFlags(verifyCmd)

	addClientFlags(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadDest, "dest", "", "Destination path, defaults to the downloads directory")

	RootCmd.AddCommand(installCmd, verifyCmd, downloadCmd)
}
