package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/cloudlink/internal/core/clock"
	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/storage"
)

// TokenEnsurer refreshes a connection's token when it is close to expiry.
type TokenEnsurer interface {
	EnsureValidToken(ctx context.Context, userID string, p domain.Provider) bool
}

// Refresher proactively refreshes tokens that expire within the buffer.
type Refresher struct {
	creds    storage.CredentialRepository
	tokens   TokenEnsurer
	interval time.Duration
	buffer   time.Duration
	clock    clock.Clock
	log      *slog.Logger
}

// NewRefresher creates a new Refresher worker.
func NewRefresher(
	creds storage.CredentialRepository,
	tokens TokenEnsurer,
	interval, buffer time.Duration,
	c clock.Clock,
) *Refresher {
	if c == nil {
		c = clock.Real()
	}
	return &Refresher{
		creds:    creds,
		tokens:   tokens,
		interval: interval,
		buffer:   buffer,
		clock:    c,
		log:      slog.Default(),
	}
}

// Start runs the refresh loop until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		return // Proactive refresh disabled
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial scan
	r.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Scan(ctx)
		}
	}
}

// Scan ensures every token expiring within the buffer and returns how many
// were checked and how many are still usable.
func (r *Refresher) Scan(ctx context.Context) (checked, valid int) {
	expiring, err := r.creds.ListExpiring(ctx, r.clock.Now().Add(r.buffer))
	if err != nil {
		r.log.Error("Failed to list expiring credentials", "error", err)
		return 0, 0
	}

	for _, cred := range expiring {
		if ctx.Err() != nil {
			break
		}
		checked++
		if r.tokens.EnsureValidToken(ctx, cred.UserID, cred.Provider) {
			valid++
			continue
		}
		r.log.Warn("Proactive refresh left token unusable", "provider", cred.Provider, "user", cred.UserID)
	}

	if checked > 0 {
		r.log.Info("Proactive refresh scan finished", "checked", checked, "valid", valid)
	}
	return checked, valid
}
