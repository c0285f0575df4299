package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/clodo/orchestrate/pkg/errdefs"
	"github.com/clodo/orchestrate/pkg/events"
	"github.com/clodo/orchestrate/pkg/log"
	"github.com/clodo/orchestrate/pkg/metrics"
	"github.com/clodo/orchestrate/pkg/types"
)

const (
	tokenDirName  = ".secure-tokens"
	tokenFileName = "tokens.json"
	keyFileName   = ".token-key"
	auditFileName = "audit.log"
)

// TokenRecord is one encrypted token at rest. Plaintext exists only in
// memory during use.
type TokenRecord struct {
	Service     string            `json:"service"`
	Fingerprint string            `json:"fingerprint"`
	Ciphertext  string            `json:"ciphertext"` // base64
	IV          string            `json:"iv"`         // base64
	AuthTag     string            `json:"auth_tag"`   // base64
	Created     time.Time         `json:"created"`
	Expires     time.Time         `json:"expires"`
	Permissions []string          `json:"permissions"`
	Environment types.Environment `json:"environment"`
	RotatedFrom string            `json:"rotated_from,omitempty"`
}

// Expired reports whether the record is past its expiry. The boundary
// instant (now == expires) counts as expired.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !r.Expires.IsZero() && !now.Before(r.Expires)
}

// TokenMetadata accompanies a StoreToken call
type TokenMetadata struct {
	Expires     time.Time
	Permissions []string
	Environment types.Environment
}

// TokenManagerConfig configures the token store
type TokenManagerConfig struct {
	// Dir is the base directory; the store lives in Dir/.secure-tokens.
	Dir string
	// MaxTokensPerService bounds tokens per service; the oldest is
	// evicted past the limit. Defaults to 5.
	MaxTokensPerService int
	// SweepInterval is the period of the expired-token sweep.
	// Defaults to 1 hour.
	SweepInterval time.Duration
	// Broker receives token lifecycle events when set. Events carry
	// fingerprints only, never plaintext.
	Broker *events.Broker
}

// TokenManager stores API tokens encrypted at rest and generates
// per-domain secret bundles. All writes are serialized.
type TokenManager struct {
	mu       sync.Mutex
	cipher   *Cipher
	dir      string
	maxPer   int
	records  []*TokenRecord
	bundles  map[string]*types.SecretBundle // cache key: domain/env
	sweepInt time.Duration
	broker   *events.Broker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTokenManager opens (or initializes) the encrypted token store under
// cfg.Dir and runs the startup sweep of expired tokens.
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.MaxTokensPerService <= 0 {
		cfg.MaxTokensPerService = 5
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}

	dir := filepath.Join(cfg.Dir, tokenDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}

	key, err := LoadOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, err
	}
	cipher, err := NewCipher(key)
	if err != nil {
		return nil, err
	}

	tm := &TokenManager{
		cipher:   cipher,
		dir:      dir,
		maxPer:   cfg.MaxTokensPerService,
		bundles:  make(map[string]*types.SecretBundle),
		sweepInt: cfg.SweepInterval,
		broker:   cfg.Broker,
		stopCh:   make(chan struct{}),
	}

	if err := tm.load(); err != nil {
		return nil, err
	}
	if _, err := tm.RotateExpiredTokens(); err != nil {
		return nil, err
	}
	return tm, nil
}

// StartSweeper runs the periodic expired-token sweep until Stop.
func (tm *TokenManager) StartSweeper() {
	go func() {
		ticker := time.NewTicker(tm.sweepInt)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := tm.RotateExpiredTokens(); err != nil {
					log.Errorf("expired token sweep failed", err)
				} else if n > 0 {
					logger := log.WithComponent("security")
					logger.Info().
						Int("removed", n).
						Msg("expired tokens swept")
				}
			case <-tm.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper.
func (tm *TokenManager) Stop() {
	tm.stopOnce.Do(func() { close(tm.stopCh) })
}

// StoreToken encrypts and persists a token, evicting the oldest token of
// the service if the per-service limit is exceeded. Returns the
// fingerprint handle.
func (tm *TokenManager) StoreToken(service, plaintext string, meta TokenMetadata) (string, error) {
	if service == "" {
		return "", errdefs.Validation("service name cannot be empty")
	}
	if plaintext == "" {
		return "", errdefs.Validation("token cannot be empty")
	}

	ciphertext, iv, tag, err := tm.cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}

	record := &TokenRecord{
		Service:     service,
		Fingerprint: Fingerprint(plaintext),
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		IV:          base64.StdEncoding.EncodeToString(iv),
		AuthTag:     base64.StdEncoding.EncodeToString(tag),
		Created:     time.Now().UTC(),
		Expires:     meta.Expires,
		Permissions: meta.Permissions,
		Environment: meta.Environment,
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.records = append(tm.records, record)
	tm.evictLocked(service)

	if err := tm.saveLocked(); err != nil {
		return "", err
	}
	tm.auditLocked("store", service, record.Fingerprint, "")
	tm.publish(events.EventTokenStored, service, record.Fingerprint)
	metrics.TokensStored.Set(float64(len(tm.records)))
	return record.Fingerprint, nil
}

// RetrieveToken decrypts the token for (service, fingerprint). Expired
// tokens are treated as absent: the attempt fails and the record is
// revoked. When requiredPerms is non-empty, every listed permission must
// be present on the record.
func (tm *TokenManager) RetrieveToken(service, fingerprint string, requiredPerms []string) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	idx := tm.findLocked(service, fingerprint)
	if idx < 0 {
		return "", errdefs.NotFound("token %s/%s", service, fingerprint)
	}
	record := tm.records[idx]

	if record.Expired(time.Now()) {
		tm.removeLocked(idx)
		if err := tm.saveLocked(); err != nil {
			return "", err
		}
		tm.auditLocked("revoke-expired", service, fingerprint, "")
		tm.publish(events.EventTokenRevoked, service, fingerprint)
		metrics.TokensStored.Set(float64(len(tm.records)))
		return "", fmt.Errorf("token %s/%s: %w", service, fingerprint, errdefs.ErrExpired)
	}

	if missing := missingPermissions(record.Permissions, requiredPerms); len(missing) > 0 {
		return "", errdefs.Permission("token %s/%s missing permissions: %v", service, fingerprint, missing)
	}

	plaintext, err := tm.decryptLocked(record)
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// RotateToken atomically replaces an existing token with a new plaintext,
// preserving metadata and linking the new record to the old fingerprint.
func (tm *TokenManager) RotateToken(service, oldFingerprint, newPlaintext string) (string, error) {
	if newPlaintext == "" {
		return "", errdefs.Validation("new token cannot be empty")
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	idx := tm.findLocked(service, oldFingerprint)
	if idx < 0 {
		return "", errdefs.NotFound("token %s/%s", service, oldFingerprint)
	}
	old := tm.records[idx]

	ciphertext, iv, tag, err := tm.cipher.Encrypt([]byte(newPlaintext))
	if err != nil {
		return "", err
	}

	tm.records[idx] = &TokenRecord{
		Service:     service,
		Fingerprint: Fingerprint(newPlaintext),
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		IV:          base64.StdEncoding.EncodeToString(iv),
		AuthTag:     base64.StdEncoding.EncodeToString(tag),
		Created:     time.Now().UTC(),
		Expires:     old.Expires,
		Permissions: old.Permissions,
		Environment: old.Environment,
		RotatedFrom: oldFingerprint,
	}

	if err := tm.saveLocked(); err != nil {
		// restore the old record so the set is unchanged on failure
		tm.records[idx] = old
		return "", err
	}
	tm.auditLocked("rotate", service, tm.records[idx].Fingerprint, oldFingerprint)
	metrics.TokenRotations.Inc()
	return tm.records[idx].Fingerprint, nil
}

// RevokeToken deletes a token and appends an audit record.
func (tm *TokenManager) RevokeToken(service, fingerprint string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	idx := tm.findLocked(service, fingerprint)
	if idx < 0 {
		return errdefs.NotFound("token %s/%s", service, fingerprint)
	}
	tm.removeLocked(idx)
	if err := tm.saveLocked(); err != nil {
		return err
	}
	tm.auditLocked("revoke", service, fingerprint, "")
	tm.publish(events.EventTokenRevoked, service, fingerprint)
	metrics.TokensStored.Set(float64(len(tm.records)))
	return nil
}

// RotateExpiredTokens removes every expired token. Called at startup and
// by the periodic sweeper. Returns the number removed.
func (tm *TokenManager) RotateExpiredTokens() (int, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	kept := tm.records[:0]
	removed := 0
	for _, record := range tm.records {
		if record.Expired(now) {
			tm.auditLocked("revoke-expired", record.Service, record.Fingerprint, "")
			tm.publish(events.EventTokenRevoked, record.Service, record.Fingerprint)
			removed++
			continue
		}
		kept = append(kept, record)
	}
	tm.records = kept

	if removed > 0 {
		if err := tm.saveLocked(); err != nil {
			return removed, err
		}
	}
	metrics.TokensStored.Set(float64(len(tm.records)))
	return removed, nil
}

// ListTokens returns the non-secret record metadata for a service.
func (tm *TokenManager) ListTokens(service string) []*TokenRecord {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var out []*TokenRecord
	for _, record := range tm.records {
		if record.Service == service {
			clone := *record
			clone.Ciphertext = ""
			clone.IV = ""
			clone.AuthTag = ""
			out = append(out, &clone)
		}
	}
	return out
}

func (tm *TokenManager) decryptLocked(record *TokenRecord) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(record.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("corrupt token record %s: %w", record.Fingerprint, err)
	}
	iv, err := base64.StdEncoding.DecodeString(record.IV)
	if err != nil {
		return "", fmt.Errorf("corrupt token record %s: %w", record.Fingerprint, err)
	}
	tag, err := base64.StdEncoding.DecodeString(record.AuthTag)
	if err != nil {
		return "", fmt.Errorf("corrupt token record %s: %w", record.Fingerprint, err)
	}
	plaintext, err := tm.cipher.Decrypt(ciphertext, iv, tag)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (tm *TokenManager) findLocked(service, fingerprint string) int {
	for i, record := range tm.records {
		if record.Service == service && record.Fingerprint == fingerprint {
			return i
		}
	}
	return -1
}

func (tm *TokenManager) removeLocked(idx int) {
	tm.records = append(tm.records[:idx], tm.records[idx+1:]...)
}

// evictLocked drops the oldest tokens of service past the per-service cap.
func (tm *TokenManager) evictLocked(service string) {
	var owned []*TokenRecord
	for _, record := range tm.records {
		if record.Service == service {
			owned = append(owned, record)
		}
	}
	if len(owned) <= tm.maxPer {
		return
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].Created.Before(owned[j].Created) })
	for _, victim := range owned[:len(owned)-tm.maxPer] {
		if idx := tm.findLocked(service, victim.Fingerprint); idx >= 0 {
			tm.auditLocked("evict", service, victim.Fingerprint, "")
			tm.removeLocked(idx)
		}
	}
}

func (tm *TokenManager) load() error {
	path := filepath.Join(tm.dir, tokenFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token store: %w", err)
	}
	if err := json.Unmarshal(data, &tm.records); err != nil {
		return fmt.Errorf("corrupt token store %s: %w", path, err)
	}
	return nil
}

func (tm *TokenManager) saveLocked() error {
	data, err := json.MarshalIndent(tm.records, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(tm.dir, tokenFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token store: %w", err)
	}
	return os.Rename(tmp, path)
}

type auditEntry struct {
	At          time.Time `json:"at"`
	Op          string    `json:"op"`
	Service     string    `json:"service"`
	Fingerprint string    `json:"fingerprint"`
	Related     string    `json:"related,omitempty"`
}

// auditLocked appends an audit line. Only fingerprints appear, never
// plaintext. Audit failures are logged, not fatal.
func (tm *TokenManager) auditLocked(op, service, fingerprint, related string) {
	entry := auditEntry{
		At:          time.Now().UTC(),
		Op:          op,
		Service:     service,
		Fingerprint: fingerprint,
		Related:     related,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(tm.dir, auditFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Errorf("failed to open token audit log", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Errorf("failed to append token audit record", err)
	}
}

// publish emits a token lifecycle event keyed by fingerprint
func (tm *TokenManager) publish(typ events.EventType, service, fingerprint string) {
	if tm.broker == nil {
		return
	}
	tm.broker.Publish(&events.Event{
		Type: typ,
		Metadata: map[string]string{
			"service":     service,
			"fingerprint": fingerprint,
		},
	})
}

func missingPermissions(have, want []string) []string {
	set := make(map[string]bool, len(have))
	for _, p := range have {
		set[p] = true
	}
	var missing []string
	for _, p := range want {
		if !set[p] {
			missing = append(missing, p)
		}
	}
	return missing
}
