package retry

import (
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

type guidance struct {
	message string
	actions []string
}

var guidanceByType = map[domain.ErrorType]guidance{
	domain.ErrorNetwork: {
		"We couldn't reach the storage provider. We'll keep retrying automatically.",
		[]string{"Check your internet connection", "Wait a few minutes and try again"},
	},
	domain.ErrorTimeout: {
		"The storage provider took too long to respond. We'll retry automatically.",
		[]string{"Wait a few minutes and try again", "Try a smaller file if the problem continues"},
	},
	domain.ErrorTokenExpired: {
		"Your connection to the storage provider has expired.",
		[]string{"Reconnect your account", "Make sure the app still has access in your provider settings"},
	},
	domain.ErrorInvalidCredentials: {
		"The saved credentials were rejected by the storage provider.",
		[]string{"Reconnect your account", "Check that the access keys are correct and active"},
	},
	domain.ErrorInsufficientPermissions: {
		"The storage provider denied access to this resource.",
		[]string{"Grant the required permissions in your provider settings", "Reconnect your account"},
	},
	domain.ErrorAPIQuotaExceeded: {
		"The storage provider is limiting requests right now. We'll try again later.",
		[]string{"Wait for the quota to reset", "Reduce how often uploads are scheduled"},
	},
	domain.ErrorStorageQuotaExceeded: {
		"Your storage space with the provider is full.",
		[]string{"Free up space in your storage account", "Upgrade your storage plan"},
	},
	domain.ErrorServiceUnavailable: {
		"The storage provider is temporarily unavailable. We'll retry automatically.",
		[]string{"Wait a few minutes and try again", "Check the provider's status page"},
	},
	domain.ErrorFileNotFound: {
		"The file could not be found at the storage provider.",
		[]string{"Check that the file wasn't moved or deleted", "Upload the file again"},
	},
	domain.ErrorFileTooLarge: {
		"The file is larger than the storage provider allows.",
		[]string{"Reduce the file size", "Use a provider that supports larger files"},
	},
	domain.ErrorInvalidFileContent: {
		"The storage provider rejected the file contents.",
		[]string{"Check that the file isn't corrupted", "Try uploading a different format"},
	},
	domain.ErrorBucketNotFound: {
		"The configured storage bucket doesn't exist.",
		[]string{"Check the bucket name in your settings", "Create the bucket in your provider console"},
	},
	domain.ErrorInvalidBucketName: {
		"The configured bucket name isn't valid.",
		[]string{"Correct the bucket name in your settings"},
	},
	domain.ErrorBucketAccessDenied: {
		"Access to the storage bucket was denied.",
		[]string{"Update the bucket policy to allow access", "Check that the access keys belong to the right account"},
	},
	domain.ErrorInvalidRegion: {
		"The configured region doesn't match the storage bucket.",
		[]string{"Set the region the bucket was created in", "Check the endpoint in your settings"},
	},
	domain.ErrorProviderNotConfigured: {
		"This storage provider hasn't been set up yet.",
		[]string{"Complete the provider setup", "Contact your administrator"},
	},
	domain.ErrorProviderInitializationFailed: {
		"The storage provider couldn't be initialized.",
		[]string{"Check the provider settings", "Contact your administrator"},
	},
	domain.ErrorFeatureNotSupported: {
		"This storage provider doesn't support the requested operation.",
		[]string{"Use a different storage provider for this feature"},
	},
	domain.ErrorUnknown: {
		"Something went wrong while talking to the storage provider.",
		[]string{"Try again", "Contact support if the problem continues"},
	},
}

// Guidance returns the user-facing message and ordered recommended actions for t.
func Guidance(t domain.ErrorType) (string, []string) {
	g, ok := guidanceByType[t]
	if !ok {
		g = guidanceByType[domain.ErrorUnknown]
	}
	actions := make([]string, len(g.actions))
	copy(actions, g.actions)
	return g.message, actions
}

// Handling is the full decision for one classified failure.
type Handling struct {
	ErrorType            domain.ErrorType `json:"error_type"`
	UserMessage          string           `json:"user_message"`
	ShouldRetry          bool             `json:"should_retry"`
	RetryDelay           time.Duration    `json:"-"`
	RetryDelaySeconds    int64            `json:"retry_delay"`
	RequiresIntervention bool             `json:"requires_intervention"`
	RecommendedActions   []string         `json:"recommended_actions"`
}

// Handle builds the Handling for t after attempt failed.
func (p Policy) Handle(t domain.ErrorType, attempt int) Handling {
	if attempt < 1 {
		attempt = 1
	}
	msg, actions := Guidance(t)
	h := Handling{
		ErrorType:            t,
		UserMessage:          msg,
		ShouldRetry:          p.ShouldRetry(t, attempt),
		RequiresIntervention: RequiresUserIntervention(t),
		RecommendedActions:   actions,
	}
	if h.ShouldRetry {
		h.RetryDelay = p.RetryDelay(t, attempt)
		h.RetryDelaySeconds = int64(h.RetryDelay / time.Second)
	}
	return h
}
