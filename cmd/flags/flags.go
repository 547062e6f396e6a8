package flags

import "time"

// 服务端
var (
	Listen          string
	GRPCListen      string
	DatabaseType    string
	DatabaseDSN     string
	StorageProvider string
	StorageDir      string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	PublicBaseURL   string
	URLTTL          time.Duration
	SigningKeyPath  string
	PruneSchedule   string
	PruneRetention  time.Duration
)

// 客户端
var (
	InstallRoot    string
	ManifestURL    string
	FallbackPath   string
	ResourcesDir   string
	TokenEndpoint  string
	TokenTransport string
	TokenRetries   uint64
	AppVersion     string
	ControlTimeout time.Duration
	ContentTimeout time.Duration
	EventsListen   string
	ProceedOffline bool
)
