package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/filevault/internal/domain/model"
)

const (
	testKeyID  = "test-key-1"
	testIssuer = "https://idp.example.test"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// buildJWKSetJSON собирает JWKS JSON из публичного RSA ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestResolver(t *testing.T, key *rsa.PrivateKey) *Resolver {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewResolverWithKeyfunc(kf, testIssuer, []string{"admin", "org:admin"}, 5*time.Second, testLogger())
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	return signed
}

func baseClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": sub,
		"iss": testIssuer,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestResolve_Spaces(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	r := newTestResolver(t, key)

	tests := []struct {
		name  string
		extra jwt.MapClaims
		want  model.Identity
	}{
		{
			name:  "личное пространство",
			extra: nil,
			want:  model.Identity{PrincipalID: "user_1", SpaceID: "user_1", Role: model.RoleAdmin, Personal: true},
		},
		{
			name:  "организация, участник",
			extra: jwt.MapClaims{"org_id": "org_1", "org_role": "org:member"},
			want:  model.Identity{PrincipalID: "user_1", SpaceID: "org_1", Role: model.RoleMember},
		},
		{
			name:  "организация, администратор",
			extra: jwt.MapClaims{"org_id": "org_1", "org_role": "org:admin"},
			want:  model.Identity{PrincipalID: "user_1", SpaceID: "org_1", Role: model.RoleAdmin},
		},
		{
			name:  "компактный формат организации",
			extra: jwt.MapClaims{"o": map[string]any{"id": "org_2", "rol": "admin"}},
			want:  model.Identity{PrincipalID: "user_1", SpaceID: "org_2", Role: model.RoleAdmin},
		},
		{
			name:  "роль без прав администратора",
			extra: jwt.MapClaims{"o": map[string]any{"id": "org_2", "rol": "basic_member"}},
			want:  model.Identity{PrincipalID: "user_1", SpaceID: "org_2", Role: model.RoleMember},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseClaims("user_1")
			for k, v := range tt.extra {
				claims[k] = v
			}
			got, err := r.Resolve(context.Background(), signToken(t, key, claims))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("хотели %+v, получили %+v", tt.want, got)
			}
		})
	}
}

func TestResolve_Rejects(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	r := newTestResolver(t, key)

	expired := baseClaims("user_1")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongIssuer := baseClaims("user_1")
	wrongIssuer["iss"] = "https://evil.example.test"

	noSub := baseClaims("")
	delete(noSub, "sub")

	noExp := baseClaims("user_1")
	delete(noExp, "exp")

	tests := []struct {
		name  string
		token string
	}{
		{"пустой токен", ""},
		{"мусор", "not-a-jwt"},
		{"просрочен", signToken(t, key, expired)},
		{"чужой issuer", signToken(t, key, wrongIssuer)},
		{"без sub", signToken(t, key, noSub)},
		{"без exp", signToken(t, key, noExp)},
		{"чужой ключ", signToken(t, otherKey, baseClaims("user_1"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.token)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("ожидается ErrUnauthenticated, получили %v", err)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("пустой контекст не должен содержать Identity")
	}
	id := model.Identity{PrincipalID: "u", SpaceID: "s", Role: model.RoleMember}
	got, ok := FromContext(WithIdentity(context.Background(), id))
	if !ok || got != id {
		t.Errorf("хотели %+v, получили %+v (%v)", id, got, ok)
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "ключи есть",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(buildJWKSetJSON(&key.PublicKey, testKeyID))
			},
			want: "ok",
		},
		{
			name: "пустой набор",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"keys":[]}`))
			},
			want: "degraded",
		},
		{
			name: "ошибка провайдера",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: "fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			status, msg := NewJWKSReadinessChecker(srv.URL, time.Second).CheckReady()
			if status != tt.want {
				t.Errorf("хотели %s, получили %s (%s)", tt.want, status, msg)
			}
		})
	}
}
