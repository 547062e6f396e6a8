package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ourlibrary/ourlibrary/api"
	"github.com/ourlibrary/ourlibrary/cmd/flags"
	"github.com/ourlibrary/ourlibrary/issuer"
	"github.com/ourlibrary/ourlibrary/utils"
	"github.com/ourlibrary/ourlibrary/utils/securestore"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the manifest and signed-URL service",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&flags.Listen, "listen", "l", GetEnv(flagNameToEnvVar("listen"), "0.0.0.0:25774"), "HTTP listen address")
	f.StringVar(&flags.GRPCListen, "grpc-listen", GetEnv(flagNameToEnvVar("grpc-listen"), ""), "gRPC listen address, empty to disable")
	f.StringVar(&flags.StorageProvider, "storage", GetEnv(flagNameToEnvVar("storage"), "local"), "Archive storage provider (local, s3)")
	f.StringVar(&flags.StorageDir, "storage-dir", GetEnv(flagNameToEnvVar("storage-dir"), "./data/archives"), "Directory holding archives for the local provider")
	f.StringVar(&flags.S3Bucket, "s3-bucket", GetEnv(flagNameToEnvVar("s3-bucket"), ""), "S3 bucket holding archives")
	f.StringVar(&flags.S3Region, "s3-region", GetEnv(flagNameToEnvVar("s3-region"), ""), "S3 region")
	f.StringVar(&flags.S3Endpoint, "s3-endpoint", GetEnv(flagNameToEnvVar("s3-endpoint"), ""), "Custom S3 endpoint (MinIO, LocalStack)")
	f.StringVar(&flags.PublicBaseURL, "public-url", GetEnv(flagNameToEnvVar("public-url"), "http://127.0.0.1:25774"), "Public base URL used in local signed links")
	f.DurationVar(&flags.URLTTL, "url-ttl", getEnvDuration(flagNameToEnvVar("url-ttl"), issuer.DefaultURLTTL), "Lifetime of issued download URLs")
	f.StringVar(&flags.SigningKeyPath, "signing-key", GetEnv(flagNameToEnvVar("signing-key"), securestore.DefaultKeyFilePath), "Path of the local URL signing key")
	f.StringVar(&flags.PruneSchedule, "prune-schedule", GetEnv(flagNameToEnvVar("prune-schedule"), "@hourly"), "Cron schedule for pruning old redemptions")
	f.DurationVar(&flags.PruneRetention, "prune-retention", getEnvDuration(flagNameToEnvVar("prune-retention"), issuer.DefaultRedemptionRetention), "How long redemptions are kept for replay detection")
	RootCmd.AddCommand(serveCmd)
}

func newProvider(ctx context.Context) (issuer.Provider, *issuer.LocalProvider, error) {
	switch flags.StorageProvider {
	case "", "local":
		key, err := securestore.GetOrCreateSigningKey(flags.SigningKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load signing key: %w", err)
		}
		local := issuer.NewLocalProvider(flags.PublicBaseURL, flags.StorageDir, key)
		return local, local, nil
	case "s3":
		p, err := issuer.NewS3Provider(ctx, issuer.S3Options{
			Bucket:   flags.S3Bucket,
			Region:   flags.S3Region,
			Endpoint: flags.S3Endpoint,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage provider: %s", flags.StorageProvider)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := openLedger(); err != nil {
		return err
	}

	provider, local, err := newProvider(cmd.Context())
	if err != nil {
		return err
	}
	svc := issuer.NewService(provider, flags.URLTTL)

	pruner, err := issuer.StartRedemptionPruner(flags.PruneSchedule, flags.PruneRetention)
	if err != nil {
		return err
	}
	defer pruner.Stop()

	if utils.VersionHash != "unknown" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    flags.Listen,
		Handler: api.NewRouter(api.RouterOptions{Service: svc, Local: local}),
	}
	errCh := make(chan error, 2)
	go func() {
		log.Printf("Starting HTTP server on %s", flags.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if flags.GRPCListen != "" {
		lis, err := net.Listen("tcp", flags.GRPCListen)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcSrv, grpcErr := issuer.ServeGRPC(lis, svc)
		log.Printf("Starting gRPC server on %s", flags.GRPCListen)
		defer grpcSrv.GracefulStop()
		go func() {
			if err := <-grpcErr; err != nil {
				errCh <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutting down...")
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
