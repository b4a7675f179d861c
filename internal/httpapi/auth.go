package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"invenpos/backend/internal/cache"
	"invenpos/backend/internal/domain"
	"invenpos/backend/internal/store"
	"invenpos/backend/internal/xid"
)

// AuthManager issues and validates access tokens. Revoked token ids and
// login attempt counters live in the keyed store, never in process memory,
// so every replica sees the same state.
type AuthManager struct {
	secret       []byte
	tokenTTL     time.Duration
	attemptLimit int64
	repo         store.Repository
	keyed        cache.KeyedStore
}

type apiClaims struct {
	jwtlib.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, attemptLimit int, repo store.Repository, keyed cache.KeyedStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if attemptLimit < 1 {
		attemptLimit = 10
	}
	if keyed == nil {
		keyed = cache.NewMemoryKeyedStore()
	}

	return &AuthManager{
		secret:       []byte(secret),
		tokenTTL:     tokenTTL,
		attemptLimit: int64(attemptLimit),
		repo:         repo,
		keyed:        keyed,
	}
}

var errTooManyAttempts = errors.New("too many login attempts")

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest, clientKey string) (domain.LoginResponse, error) {
	attempts, err := a.keyed.Incr(ctx, "login:attempts:"+clientKey, time.Minute)
	if err == nil && attempts > a.attemptLimit {
		return domain.LoginResponse{}, errTooManyAttempts
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	user, err := a.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Logout revokes the token for its remaining lifetime. Parsing failures are
// treated as already-dead tokens.
func (a *AuthManager) Logout(ctx context.Context, tokenStr string) error {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return nil
	}
	ttl := a.tokenTTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return a.keyed.SetValue(ctx, "auth:revoked:"+claims.ID, "1", ttl)
}

func (a *AuthManager) Authenticate(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}

	revoked, err := a.keyed.Exists(ctx, "auth:revoked:"+claims.ID)
	if err == nil && revoked {
		return domain.Actor{}, errors.New("token revoked")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: sub, Username: claims.Username, Role: claims.Role}, nil
}

func (a *AuthManager) parse(tokenStr string) (*apiClaims, error) {
	claims := &apiClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	return claims, nil
}

func (a *AuthManager) sign(user *domain.User, expiresAt time.Time) (string, error) {
	claims := apiClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("jti"),
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "invenpos",
		},
		Username: user.Username,
		Role:     user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// HashPassword is used by the admin user-creation handler before the hash
// is handed to the service layer.
func HashPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < 6 {
		return "", errors.New("password must be at least 6 characters")
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
