package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookieName = "zaya_session"
	sessionTTL        = 12 * time.Hour
)

type authService struct {
	db            *sql.DB
	sessionSecret []byte
	now           func() time.Time
}

func newAuthService(db *sql.DB, sessionSecret string) *authService {
	return &authService{db: db, sessionSecret: []byte(sessionSecret), now: time.Now}
}

func (a *authService) validateCredentials(ctx context.Context, email, password string) (bool, error) {
	var passwordHash string
	err := a.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE email = ?`, email).Scan(&passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user credentials: %w", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password hash: %w", err)
	}
	return true, nil
}

// createSessionValue signs "email|expiry" so sessions lapse without any
// server-side state.
func (a *authService) createSessionValue(email string) string {
	expires := a.now().Add(sessionTTL).Unix()
	payload := base64.RawURLEncoding.EncodeToString([]byte(email + "|" + strconv.FormatInt(expires, 10)))
	return payload + "." + a.sign(payload)
}

func (a *authService) sign(payload string) string {
	mac := hmac.New(sha256.New, a.sessionSecret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *authService) verifySessionValue(value string) (string, bool) {
	payload, signature, ok := strings.Cut(value, ".")
	if !ok {
		return "", false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return "", false
	}
	expected, _ := hex.DecodeString(a.sign(payload))
	if !hmac.Equal(provided, expected) {
		return "", false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	email, rawExpiry, ok := strings.Cut(string(decoded), "|")
	if !ok || email == "" {
		return "", false
	}
	expires, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil || a.now().Unix() >= expires {
		return "", false
	}

	return email, true
}

func (a *authService) setSessionCookie(w http.ResponseWriter, email string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.createSessionValue(email),
		Path:     "/",
		MaxAge:   int(sessionTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *authService) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func isAuthenticated(r *http.Request, auth *authService) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}

	_, ok := auth.verifySessionValue(cookie.Value)
	return ok
}
