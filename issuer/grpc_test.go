package issuer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ourlibrary/ourlibrary/database/tokens"
	"github.com/ourlibrary/ourlibrary/rpc"
	"github.com/ourlibrary/ourlibrary/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestGRPCIssue(t *testing.T) {
	setupLedger(t)
	tok, err := tokens.Create(tokens.CreateParams{Tier: "basic", MaxDownloads: utils.Ptr(1)})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	srv, _ := ServeGRPC(lis, NewService(&stubProvider{url: "https://cdn/"}, time.Minute))
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := rpc.NewClient(conn)

	var grant Grant
	payload := map[string]interface{}{"token": tok.ID, "fileId": "file-120", "version": "1.2.0", "requestId": "g-1"}
	require.NoError(t, client.IssueDownloadUrl(context.Background(), payload, &grant))
	assert.Equal(t, "https://cdn/file-120", grant.DownloadURL)
	assert.Equal(t, int64(42), grant.Archive.SizeBytes)
	require.NotNil(t, grant.QuotaRemaining)
	assert.Equal(t, 0, *grant.QuotaRemaining)

	payload["requestId"] = "g-2"
	err = client.IssueDownloadUrl(context.Background(), payload, &grant)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Equal(t, "resource-exhausted", rpc.FromGRPCCode(st.Code()))
	assert.Equal(t, "Token quota exceeded", st.Message())
}
