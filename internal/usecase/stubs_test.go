package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/learnonline/admin-iam/internal/core/domain"
	"github.com/learnonline/admin-iam/internal/core/port"
	"github.com/learnonline/admin-iam/internal/infra/config"
	"github.com/learnonline/admin-iam/internal/infra/security"
	"github.com/learnonline/admin-iam/internal/repository"
)

// newTestJWTManager creates a throwaway RSA key pair on disk and a manager
// signing with it.
func newTestJWTManager(t *testing.T) *security.JWTManager {
	t.Helper()

	tmpDir := t.TempDir()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	keyPath := filepath.Join(tmpDir, "test-signing.pem")
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	provider, err := security.NewFileKeyProvider(tmpDir)
	if err != nil {
		t.Fatalf("failed to create key provider: %v", err)
	}

	manager, err := security.NewJWTManager(provider, provider.SigningKID(), "admin-iam-test")
	if err != nil {
		t.Fatalf("failed to create jwt manager: %v", err)
	}

	return manager
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		JWT: config.JWTSettings{
			AccessTokenTTL:    15 * time.Minute,
			ChallengeTokenTTL: 5 * time.Minute,
		},
		Lockout: config.LockoutSettings{
			MaxAttempts:  5,
			LockDuration: 15 * time.Minute,
		},
		TwoFactor: config.TwoFactorSettings{
			Issuer:        "admin-iam-test",
			Skew:          1,
			RecoveryCodes: 8,
		},
		Password: config.PasswordSettings{
			MinLength: 12,
			ResetTTL:  time.Hour,
		},
	}
}

// stubAccountRepo keeps accounts in memory and mirrors the conditional
// update semantics of the SQL layer.
type stubAccountRepo struct {
	accounts map[string]*domain.Account
	history  map[string][]domain.PasswordHistoryEntry

	createErr error
	listErr   error
}

func newStubAccountRepo(accounts ...domain.Account) *stubAccountRepo {
	repo := &stubAccountRepo{
		accounts: make(map[string]*domain.Account),
		history:  make(map[string][]domain.PasswordHistoryEntry),
	}
	for _, account := range accounts {
		copy := account
		repo.accounts[account.ID] = &copy
	}
	return repo
}

var _ port.AccountRepository = (*stubAccountRepo)(nil)

func (r *stubAccountRepo) Create(_ context.Context, account domain.Account) error {
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.accounts {
		if existing.Email == account.Email {
			return repository.ErrDuplicate
		}
	}
	copy := account
	r.accounts[account.ID] = &copy
	return nil
}

func (r *stubAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	account, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *account
	return &copy, nil
}

func (r *stubAccountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	for _, account := range r.accounts {
		if account.Email == email {
			copy := *account
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubAccountRepo) List(_ context.Context, filter port.AccountFilter) ([]domain.Account, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		if matchesFilter(*account, filter) {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (r *stubAccountRepo) Count(_ context.Context, filter port.AccountFilter) (int, error) {
	if r.listErr != nil {
		return 0, r.listErr
	}
	count := 0
	for _, account := range r.accounts {
		if matchesFilter(*account, filter) {
			count++
		}
	}
	return count, nil
}

func matchesFilter(account domain.Account, filter port.AccountFilter) bool {
	if filter.Role != "" && account.Role != filter.Role {
		return false
	}
	for _, excluded := range filter.ExcludeRoles {
		if account.Role == excluded {
			return false
		}
	}
	return true
}

func (r *stubAccountRepo) RecordLoginFailure(_ context.Context, id string, at time.Time, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	account, ok := r.accounts[id]
	if !ok {
		return 0, nil, repository.ErrNotFound
	}
	account.FailedLoginAttempts++
	account.LastFailedLogin = &at
	if account.FailedLoginAttempts >= threshold {
		lock := lockUntil
		account.LockedUntil = &lock
	}
	return account.FailedLoginAttempts, account.LockedUntil, nil
}

func (r *stubAccountRepo) RecordLoginSuccess(_ context.Context, id string, at time.Time, ip *string) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	account.LastLogin = &at
	account.LastLoginIP = ip
	return nil
}

func (r *stubAccountRepo) ConsumeRecoveryCode(_ context.Context, id string, codeHash string) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	for i, hash := range account.RecoveryCodeHashes {
		if hash == codeHash {
			account.RecoveryCodeHashes = append(account.RecoveryCodeHashes[:i], account.RecoveryCodeHashes[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *stubAccountRepo) SetTwoFactorSecret(_ context.Context, id string, secret string, recoveryHashes []string) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.TwoFactorSecret = &secret
	account.RecoveryCodeHashes = recoveryHashes
	return nil
}

func (r *stubAccountRepo) EnableTwoFactor(_ context.Context, id string) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if account.TwoFactorSecret == nil {
		return repository.ErrNotFound
	}
	account.TwoFactorEnabled = true
	return nil
}

func (r *stubAccountRepo) SetPasswordResetToken(_ context.Context, id string, tokenHash string, expiresAt time.Time) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.PasswordResetTokenHash = &tokenHash
	account.PasswordResetExpires = &expiresAt
	return nil
}

func (r *stubAccountRepo) GetByResetToken(_ context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	for _, account := range r.accounts {
		if account.PasswordResetTokenHash != nil && *account.PasswordResetTokenHash == tokenHash &&
			account.PasswordResetExpires != nil && account.PasswordResetExpires.After(now) {
			copy := *account
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubAccountRepo) CompletePasswordReset(_ context.Context, id string, passwordHash, passwordAlgo string, changedAt time.Time) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.history[id] = append(r.history[id], domain.PasswordHistoryEntry{
		AccountID:    id,
		PasswordHash: passwordHash,
		SetAt:        changedAt,
	})
	account.PasswordHash = passwordHash
	account.PasswordAlgo = passwordAlgo
	account.PasswordResetTokenHash = nil
	account.PasswordResetExpires = nil
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	return nil
}

func (r *stubAccountRepo) UpdateRole(_ context.Context, id string, role domain.Role) error {
	account, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.Role = role
	return nil
}

func (r *stubAccountRepo) ListPasswordHistory(_ context.Context, id string, limit int) ([]domain.PasswordHistoryEntry, error) {
	entries := r.history[id]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// recordingEventRepo captures appended security events for assertions.
type recordingEventRepo struct {
	events    []domain.SecurityEvent
	appendErr error
}

var _ port.SecurityEventRepository = (*recordingEventRepo)(nil)

func (r *recordingEventRepo) Append(_ context.Context, event domain.SecurityEvent) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEventRepo) ListByAccount(_ context.Context, accountID string, _ int) ([]domain.SecurityEvent, error) {
	var out []domain.SecurityEvent
	for _, event := range r.events {
		if event.AccountID != nil && *event.AccountID == accountID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *recordingEventRepo) kinds() []domain.SecurityEventKind {
	out := make([]domain.SecurityEventKind, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Kind)
	}
	return out
}

func (r *recordingEventRepo) countKind(kind domain.SecurityEventKind) int {
	count := 0
	for _, event := range r.events {
		if event.Kind == kind {
			count++
		}
	}
	return count
}

// recordingPublisher counts published domain events.
type recordingPublisher struct {
	registered      []domain.AccountRegisteredEvent
	passwordChanged []domain.PasswordChangedEvent
	resetRequested  []domain.PasswordResetRequestedEvent
	locked          []domain.AccountLockedEvent
	roleChanged     []domain.RoleChangedEvent
}

var _ port.EventPublisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.registered = append(p.registered, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.passwordChanged = append(p.passwordChanged, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.resetRequested = append(p.resetRequested, event)
	return nil
}

func (p *recordingPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.locked = append(p.locked, event)
	return nil
}

func (p *recordingPublisher) PublishRoleChanged(_ context.Context, event domain.RoleChangedEvent) error {
	p.roleChanged = append(p.roleChanged, event)
	return nil
}

// stubRateLimitStore keeps attempt timestamps per identifier.
type stubRateLimitStore struct {
	attempts map[string][]time.Time
}

func newStubRateLimitStore() *stubRateLimitStore {
	return &stubRateLimitStore{attempts: make(map[string][]time.Time)}
}

var _ port.RateLimitStore = (*stubRateLimitStore)(nil)

func (s *stubRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.attempts[identifier] = append(s.attempts[identifier], at)
	return nil
}

func (s *stubRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	count := 0
	cutoff := reference.Add(-window)
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *stubRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	cutoff := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *stubRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	cutoff := reference.Add(-window)
	var oldest time.Time
	found := false
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && (!found || at.Before(oldest)) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}

// recordingMailer captures dispatched reset tokens.
type recordingMailer struct {
	sent []sentReset
	err  error
}

type sentReset struct {
	email string
	name  string
	token string
}

var _ port.ResetMailer = (*recordingMailer)(nil)

func (m *recordingMailer) SendPasswordReset(_ context.Context, email, name, rawToken string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentReset{email: email, name: name, token: rawToken})
	return nil
}

var errUnexpectedCall = errors.New("unexpected call")
