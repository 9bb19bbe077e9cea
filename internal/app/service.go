package app

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"doorbell/api/internal/auth"
	"doorbell/api/internal/config"
	"doorbell/api/internal/notify"
	"doorbell/api/internal/store"
	"doorbell/api/internal/util"
)

const defaultVisitHistoryLimit = 50

type dataStore interface {
	Ping(context.Context) error
	InsertGateKeeper(context.Context, store.GateKeeper) error
	GetGateKeeper(context.Context, string) (store.GateKeeper, error)
	SetGateKeeperStatus(context.Context, string, string) (bool, error)
	ListGateKeepers(context.Context) ([]store.GateKeeper, error)
	ListDeviceTokens(context.Context) ([]string, error)
	InsertVisit(context.Context, store.Visit) error
	LatestVisit(context.Context) (store.Visit, error)
	RecentVisits(context.Context, int) ([]store.Visit, error)
	AnswerVisit(context.Context, string, string) (bool, error)
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash, jti string, ttl time.Duration) error
	Exists(ctx context.Context, tokenHash string) (bool, error)
	Revoke(ctx context.Context, tokenHash string) error
}

// AdminSession is returned from a successful PIN login.
type AdminSession struct {
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier notify.Notifier
	sessions sessionStore
}

func New(cfg config.Config, dataStore dataStore, notifier notify.Notifier) *Service {
	return &Service{cfg: cfg, store: dataStore, notifier: notifier}
}

// NewWithSessionStore wires a Redis session store so issued admin tokens become
// revocable. Without it tokens are validated by signature and expiry alone.
func NewWithSessionStore(cfg config.Config, dataStore dataStore, notifier notify.Notifier, sessions sessionStore) *Service {
	return &Service{cfg: cfg, store: dataStore, notifier: notifier, sessions: sessions}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CheckAPIKey is the per-app authorization guard. It must pass before any other
// component is touched.
func (s *Service) CheckAPIKey(key string) bool {
	if s.cfg.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

// CheckAdminPIN is the admin-tier guard. It is a separate secret from the API key;
// the two trust levels never share a credential.
func (s *Service) CheckAdminPIN(pin string) bool {
	if pin == "" {
		return false
	}
	if s.cfg.AdminPINHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPINHash), []byte(pin)) == nil
	}
	if s.cfg.AdminPIN == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pin), []byte(s.cfg.AdminPIN)) == 1
}

// RegisterGateKeeper creates a gatekeeper application in review-pending state and
// returns its id.
func (s *Service) RegisterGateKeeper(ctx context.Context, firstName, lastName, deviceToken string) (string, error) {
	if firstName == "" {
		return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Missing first name or last name", nil)
	}
	if len(firstName) < 2 {
		return "", domainError(http.StatusBadRequest, "VALIDATION_ERROR", "First name must be at least 2 characters long", nil)
	}
	if lastName == "" {
		lastName = "."
	}

	gk := store.GateKeeper{
		ID:          util.NewID("gk"),
		FirstName:   firstName,
		LastName:    lastName,
		DeviceToken: deviceToken,
		Status:      store.StatusReviewPending,
	}
	if err := s.store.InsertGateKeeper(ctx, gk); err != nil {
		return "", fmt.Errorf("register gatekeeper: %w", err)
	}
	return gk.ID, nil
}

func (s *Service) GateKeeperByID(ctx context.Context, id string) (store.GateKeeper, error) {
	gk, err := s.store.GetGateKeeper(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.GateKeeper{}, domainError(http.StatusNotFound, "NOT_FOUND", "Gatekeeper not found", nil)
	}
	if err != nil {
		return store.GateKeeper{}, fmt.Errorf("get gatekeeper: %w", err)
	}
	return gk, nil
}

// SetGateKeeperStatus overwrites a gatekeeper's status. Any status may follow any
// other; there is no transition graph to validate.
func (s *Service) SetGateKeeperStatus(ctx context.Context, id, newStatus string) error {
	if id == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Missing id", nil)
	}
	if !store.ValidStatus(newStatus) {
		return domainError(http.StatusUnprocessableEntity, "INVALID_STATUS", "Unknown gatekeeper status", nil)
	}
	matched, err := s.store.SetGateKeeperStatus(ctx, id, newStatus)
	if err != nil {
		return fmt.Errorf("set gatekeeper status: %w", err)
	}
	if !matched {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Gatekeeper not found", nil)
	}
	return nil
}

func (s *Service) ListGateKeepers(ctx context.Context) ([]store.GateKeeper, error) {
	items, err := s.store.ListGateKeepers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gatekeepers: %w", err)
	}
	return items, nil
}

// RingBell records a visit and fans a push notification out to every registered
// device token. The token read and the visit insert are independent and run
// concurrently; the fan-out waits for both. Notification delivery is best-effort
// and never fails the ring once the visit row is durable.
func (s *Service) RingBell(ctx context.Context) (string, error) {
	visit := store.Visit{ID: util.NewID("v")}

	var (
		wg        sync.WaitGroup
		tokens    []string
		tokensErr error
		insertErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tokens, tokensErr = s.store.ListDeviceTokens(ctx)
	}()
	go func() {
		defer wg.Done()
		insertErr = s.store.InsertVisit(ctx, visit)
	}()
	wg.Wait()

	if insertErr != nil {
		return "", fmt.Errorf("record visit: %w", insertErr)
	}
	if tokensErr != nil {
		return "", fmt.Errorf("collect device tokens: %w", tokensErr)
	}

	if len(tokens) > 0 {
		report, err := s.notifier.Send(ctx, tokens, s.cfg.NotificationTitle, s.cfg.NotificationBody)
		if err != nil {
			log.Printf("ring: notification fan-out failed: %v", err)
		} else if report.Failure > 0 {
			log.Printf("ring: notified %d device(s), %d failed", report.Success, report.Failure)
		}
	}

	return visit.ID, nil
}

// AnswerVisit lets an approved gatekeeper claim the most recent visit. The target
// visit is resolved internally rather than by id: the product assumes one bell and
// at most one visit in flight.
func (s *Service) AnswerVisit(ctx context.Context, gateKeeperID string) (store.Visit, error) {
	if gateKeeperID == "" {
		return store.Visit{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Missing id", nil)
	}

	gk, err := s.GateKeeperByID(ctx, gateKeeperID)
	if err != nil {
		return store.Visit{}, err
	}
	if gk.Status != store.StatusApproved {
		return store.Visit{}, domainError(http.StatusForbidden, "NOT_APPROVED", "Gatekeeper not approved", nil)
	}

	visit, err := s.store.LatestVisit(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Visit{}, domainError(http.StatusNotFound, "NOT_FOUND", "No visits found", nil)
	}
	if err != nil {
		return store.Visit{}, fmt.Errorf("latest visit: %w", err)
	}

	if time.Since(visit.CreatedAt) >= s.cfg.AnswerWindow {
		return store.Visit{}, domainError(http.StatusGone, "VISIT_STALE", "Visit too old", nil)
	}
	if visit.Answered() {
		return store.Visit{}, domainError(http.StatusConflict, "ALREADY_ANSWERED", "Visit already answered", nil)
	}

	won, err := s.store.AnswerVisit(ctx, visit.ID, gateKeeperID)
	if err != nil {
		return store.Visit{}, fmt.Errorf("answer visit: %w", err)
	}
	if !won {
		// Lost the race to a concurrent answer between the read and the update.
		return store.Visit{}, domainError(http.StatusConflict, "ALREADY_ANSWERED", "Visit already answered", nil)
	}

	visit.AnsweredBy = &gateKeeperID
	return visit, nil
}

func (s *Service) RecentVisits(ctx context.Context, limit int) ([]store.Visit, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultVisitHistoryLimit
	}
	items, err := s.store.RecentVisits(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent visits: %w", err)
	}
	return items, nil
}

// AdminLogin exchanges a correct PIN for a signed, TTL-bound admin token. When a
// session store is configured the token's hash is recorded so it can be revoked.
func (s *Service) AdminLogin(ctx context.Context, pin string) (AdminSession, error) {
	if !s.CheckAdminPIN(pin) {
		return AdminSession{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Request not allowed", nil)
	}

	expiresAt := time.Now().Add(s.cfg.AdminSessionTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.AdminSessionSecret), auth.Claims{
		Scope: auth.ScopeAdmin,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return AdminSession{}, fmt.Errorf("issue admin token: %w", err)
	}

	if s.sessions != nil {
		if err := s.sessions.Save(ctx, hashToken(token), jti, s.cfg.AdminSessionTTL); err != nil {
			return AdminSession{}, fmt.Errorf("save admin session: %w", err)
		}
	}
	return AdminSession{Token: token, ExpiresAt: expiresAt}, nil
}

// CheckAdminToken validates an admin session token: signature and expiry always,
// plus Redis presence when a session store is configured.
func (s *Service) CheckAdminToken(ctx context.Context, token string) error {
	claims, err := auth.ParseToken([]byte(s.cfg.AdminSessionSecret), token)
	if err != nil {
		return err
	}
	if claims.Scope != auth.ScopeAdmin {
		return auth.ErrInvalidToken
	}
	if s.sessions != nil {
		exists, err := s.sessions.Exists(ctx, hashToken(token))
		if err != nil {
			return fmt.Errorf("lookup admin session: %w", err)
		}
		if !exists {
			return auth.ErrInvalidToken
		}
	}
	return nil
}

// AdminLogout revokes the session record; the token then fails CheckAdminToken
// even before it expires. A no-op without a session store.
func (s *Service) AdminLogout(ctx context.Context, token string) error {
	if s.sessions == nil || strings.TrimSpace(token) == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, hashToken(token))
}

func hashToken(token string) string {
	sum := sha1.Sum([]byte(token))
	return hex.EncodeToString(sum[:])
}
