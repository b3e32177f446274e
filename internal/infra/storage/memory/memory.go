package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/cloudlink/internal/core/domain"
	"github.com/vietddude/cloudlink/internal/infra/storage"
)

type recordKey struct {
	userID   string
	provider domain.Provider
}

// MemoryStorage keeps credentials and health records in process memory.
// Values are copied on the way in and out.
type MemoryStorage struct {
	creds  map[recordKey]*domain.Credential
	health map[recordKey]*domain.ConnectionHealthRecord
	mu     sync.RWMutex
}

var _ storage.Store = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		creds:  make(map[recordKey]*domain.Credential),
		health: make(map[recordKey]*domain.ConnectionHealthRecord),
	}
}

// -----------------------------------------------------------------------------
// Credentials
// -----------------------------------------------------------------------------

func (s *MemoryStorage) LoadCredential(ctx context.Context, userID string, provider domain.Provider) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[recordKey{userID, provider}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyCredential(c), nil
}

func (s *MemoryStorage) SaveCredential(ctx context.Context, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[recordKey{cred.UserID, cred.Provider}] = copyCredential(cred)
	return nil
}

func (s *MemoryStorage) ListCredentials(ctx context.Context) ([]*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, copyCredential(c))
	}
	sortCredentials(out)
	return out, nil
}

func (s *MemoryStorage) ListExpiring(ctx context.Context, before time.Time) ([]*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Credential
	for _, c := range s.creds {
		if c.HasRefreshToken() && c.Expires() && c.ExpiresAt.Before(before) {
			out = append(out, copyCredential(c))
		}
	}
	sortCredentials(out)
	return out, nil
}

// -----------------------------------------------------------------------------
// Health records
// -----------------------------------------------------------------------------

func (s *MemoryStorage) LoadHealth(ctx context.Context, userID string, provider domain.Provider) (*domain.ConnectionHealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.health[recordKey{userID, provider}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyHealth(r), nil
}

func (s *MemoryStorage) SaveHealth(ctx context.Context, rec *domain.ConnectionHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[recordKey{rec.UserID, rec.Provider}] = copyHealth(rec)
	return nil
}

func (s *MemoryStorage) SaveHealthStatus(ctx context.Context, rec *domain.ConnectionHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current(rec)
	cur.Status = rec.Status
	cur.Color = rec.Color
	cur.TokenStatus = rec.TokenStatus
	cur.TokenExpiresAt = rec.TokenExpiresAt
	cur.LastCheckedAt = rec.LastCheckedAt
	cur.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *MemoryStorage) SaveRefreshOutcome(ctx context.Context, cred *domain.Credential, rec *domain.ConnectionHealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred != nil {
		s.creds[recordKey{cred.UserID, cred.Provider}] = copyCredential(cred)
	}
	cur := s.current(rec)
	cur.ConsecutiveFailures = rec.ConsecutiveFailures
	cur.LastErrorType = rec.LastErrorType
	cur.LastErrorMessage = rec.LastErrorMessage
	cur.LastErrorContext = copyContext(rec.LastErrorContext)
	cur.LastRefreshAttemptAt = rec.LastRefreshAttemptAt
	cur.LastRefreshSuccessAt = rec.LastRefreshSuccessAt
	cur.TokenExpiresAt = rec.TokenExpiresAt
	cur.RequiresReconnection = rec.RequiresReconnection
	cur.UpdatedAt = rec.UpdatedAt
	return nil
}

// current returns the stored record for rec's key, creating it when missing. Caller holds mu.
func (s *MemoryStorage) current(rec *domain.ConnectionHealthRecord) *domain.ConnectionHealthRecord {
	k := recordKey{rec.UserID, rec.Provider}
	cur, ok := s.health[k]
	if !ok {
		cur = domain.NewHealthRecord(rec.UserID, rec.Provider)
		s.health[k] = cur
	}
	return cur
}

func copyCredential(c *domain.Credential) *domain.Credential {
	cp := *c
	if c.Settings != nil {
		cp.Settings = make(map[string]string, len(c.Settings))
		for k, v := range c.Settings {
			cp.Settings[k] = v
		}
	}
	return &cp
}

func copyHealth(r *domain.ConnectionHealthRecord) *domain.ConnectionHealthRecord {
	cp := *r
	cp.LastErrorContext = copyContext(r.LastErrorContext)
	return &cp
}

func copyContext(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func sortCredentials(cs []*domain.Credential) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].UserID != cs[j].UserID {
			return cs[i].UserID < cs[j].UserID
		}
		return cs[i].Provider < cs[j].Provider
	})
}
