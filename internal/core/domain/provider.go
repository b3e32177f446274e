package domain

// Provider identifies an external storage backend.
type Provider string

// ProviderKind tells how a provider authenticates.
type ProviderKind string

const (
	ProviderGoogleDrive Provider = "google-drive"
	ProviderAmazonS3    Provider = "amazon-s3"

	// KindOAuth providers hold short-lived access tokens plus a refresh token.
	KindOAuth ProviderKind = "drive"
	// KindAPIKey providers hold static keys that never expire.
	KindAPIKey ProviderKind = "s3"
)

// ProviderKinds maps known providers to the way they authenticate.
var ProviderKinds = map[Provider]ProviderKind{
	ProviderGoogleDrive: KindOAuth,
	ProviderAmazonS3:    KindAPIKey,
}

// Operation names a unit of work performed against a provider.
type Operation string

const (
	OpUpload            Operation = "upload"
	OpDownload          Operation = "download"
	OpDelete            Operation = "delete"
	OpList              Operation = "list"
	OpTokenRefresh      Operation = "token_refresh"
	OpConnectivityCheck Operation = "connectivity_check"
	OpHealthCheck       Operation = "health_check"
)

// Operations lists every operation the engine tracks counters for.
var Operations = []Operation{
	OpUpload,
	OpDownload,
	OpDelete,
	OpList,
	OpTokenRefresh,
	OpConnectivityCheck,
	OpHealthCheck,
}
