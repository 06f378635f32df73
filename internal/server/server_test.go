package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/filevault/internal/api/handlers"
	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/api/openapi"
	"github.com/bigkaa/filevault/internal/blob"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/identity"
	badgerstore "github.com/bigkaa/filevault/internal/repository/badger"
	"github.com/bigkaa/filevault/internal/service"
)

const testKeyID = "server-test-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testServer — сервер со всеми слоями: JWT, валидация контракта,
// сервисы, in-memory badger и локальное blob-хранилище.
type testServer struct {
	srv     *httptest.Server
	key     *rsa.PrivateKey
	store   *badgerstore.Store
	blobDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()
	ctx := context.Background()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}
	jwksJSON, _ := json.Marshal(jwks)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	resolver := identity.NewResolverWithKeyfunc(kf, "", []string{"org:admin"}, 5*time.Second, logger)

	store, err := badgerstore.Open(badgerstore.InMemoryDir, logger)
	if err != nil {
		t.Fatalf("badger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	blobDir := t.TempDir()
	local, err := blob.NewLocalStore(blobDir, "https://cdn.example.test/blobs", logger)
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	blobs := blob.NewCachedStore(local, 100, time.Minute)

	files := service.NewFileService(store.Files(), blobs, logger)
	favorites := service.NewFavoriteService(store.Files(), store.Favorites(), logger)
	query := service.NewQueryService(store.Files(), store.Favorites(), logger)

	health := handlers.NewHealthHandler(
		handlers.NamedCheck{Name: "store", Checker: store},
		handlers.NamedCheck{Name: "blob", Checker: blobs},
	)
	h := handlers.NewAPIHandler(health, files, favorites, query, blobs, 1<<20, logger)

	doc, err := openapi.Load(ctx)
	if err != nil {
		t.Fatalf("openapi: %v", err)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	router := NewRouter(h,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		middleware.WithExclusions(middleware.NewAuth(resolver, logger).Middleware(), "/health/", "/metrics"),
		validator.Middleware(),
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, key: key, store: store, blobDir: blobDir}
}

// token выпускает токен principal'а; org == "" — личное пространство.
func (ts *testServer) token(t *testing.T, sub, org, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if org != "" {
		claims["org_id"] = org
		claims["org_role"] = role
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(ts.key)
	if err != nil {
		t.Fatalf("подпись: %v", err)
	}
	return signed
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (ts *testServer) do(t *testing.T, token, method, path, contentType, body string) response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("запрос: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, header: resp.Header, body: data}
}

func decode[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(r.body, &v); err != nil {
		t.Fatalf("ответ не JSON (%d): %s", r.status, r.body)
	}
	return v
}

func expectStatus(t *testing.T, what string, r response, want int) {
	t.Helper()
	if r.status != want {
		t.Fatalf("%s: статус %d, хотели %d (%s)", what, r.status, want, r.body)
	}
}

type listedFile struct {
	File        model.FileRecord `json:"file"`
	IsFavorited bool             `json:"is_favorited"`
	URL         string           `json:"url"`
}

type fileList struct {
	Items []listedFile `json:"items"`
	Total int          `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestServer_FileLifecycle(t *testing.T) {
	ts := newTestServer(t)
	member := ts.token(t, "user-p", "org-s", "org:member")
	admin := ts.token(t, "user-a", "org-s", "org:admin")
	outsider := ts.token(t, "user-x", "org-t", "org:admin")

	// загрузка содержимого и создание записи
	up := ts.do(t, member, http.MethodPost, "/api/v1/uploads", "text/csv", "a,b\n1,2\n")
	expectStatus(t, "upload", up, http.StatusCreated)
	ref := decode[map[string]string](t, up)["content_ref"]
	if _, err := os.Stat(filepath.Join(ts.blobDir, ref)); err != nil {
		t.Fatalf("содержимое не сохранено: %v", err)
	}

	created := ts.do(t, member, http.MethodPost, "/api/v1/files", "application/json",
		`{"name":"Q1 Report.csv","type":"csv","content_ref":"`+ref+`"}`)
	expectStatus(t, "create", created, http.StatusCreated)
	file := decode[model.FileRecord](t, created)
	if file.SpaceID != "org-s" || file.UploaderID != "user-p" || file.MarkedForDeletion {
		t.Fatalf("запись = %+v", file)
	}

	// выдача со ссылкой, поиск без учёта регистра
	list := decode[fileList](t, ts.do(t, member, http.MethodGet, "/api/v1/files?query=report", "", ""))
	if list.Total != 1 || list.Items[0].File.ID != file.ID || list.Items[0].IsFavorited {
		t.Fatalf("выдача = %+v", list)
	}
	if list.Items[0].URL != "https://cdn.example.test/blobs/"+ref {
		t.Errorf("url = %q", list.Items[0].URL)
	}

	// избранное
	fav := ts.do(t, member, http.MethodPost, "/api/v1/files/"+file.ID+"/favorite", "", "")
	expectStatus(t, "favorite", fav, http.StatusOK)
	if !decode[map[string]bool](t, fav)["favorited"] {
		t.Fatal("ожидалось favorited=true")
	}
	list = decode[fileList](t, ts.do(t, member, http.MethodGet, "/api/v1/files?favorites=true", "", ""))
	if list.Total != 1 || !list.Items[0].IsFavorited {
		t.Errorf("избранное в выдаче = %+v", list)
	}
	list = decode[fileList](t, ts.do(t, admin, http.MethodGet, "/api/v1/files?favorites=true", "", ""))
	if list.Total != 0 {
		t.Errorf("избранное другого principal'а не должно попадать в выдачу: %+v", list)
	}

	// скачивание
	dl := ts.do(t, member, http.MethodGet, "/api/v1/files/"+file.ID+"/download", "", "")
	expectStatus(t, "download", dl, http.StatusFound)
	if dl.header.Get("Location") != "https://cdn.example.test/blobs/"+ref {
		t.Errorf("Location = %q", dl.header.Get("Location"))
	}

	// пометка на удаление: member — 403, admin — 200
	expectStatus(t, "member delete", ts.do(t, member, http.MethodPost, "/api/v1/files/"+file.ID+"/delete", "", ""), http.StatusForbidden)
	marked := ts.do(t, admin, http.MethodPost, "/api/v1/files/"+file.ID+"/delete", "", "")
	expectStatus(t, "admin delete", marked, http.StatusOK)
	if rec := decode[model.FileRecord](t, marked); !rec.MarkedForDeletion || rec.MarkedAt == nil {
		t.Errorf("после пометки = %+v", rec)
	}

	list = decode[fileList](t, ts.do(t, member, http.MethodGet, "/api/v1/files", "", ""))
	if list.Total != 0 {
		t.Errorf("помеченный файл в обычной выдаче: %+v", list)
	}
	expectStatus(t, "member deleted list", ts.do(t, member, http.MethodGet, "/api/v1/files?deleted=true", "", ""), http.StatusForbidden)
	list = decode[fileList](t, ts.do(t, admin, http.MethodGet, "/api/v1/files?deleted=true", "", ""))
	if list.Total != 1 {
		t.Errorf("выдача помеченных = %+v", list)
	}

	// чужое пространство не видит файл даже с ролью admin
	expectStatus(t, "outsider get", ts.do(t, outsider, http.MethodGet, "/api/v1/files/"+file.ID, "", ""), http.StatusNotFound)
	expectStatus(t, "outsider purge", ts.do(t, outsider, http.MethodDelete, "/api/v1/files/"+file.ID, "", ""), http.StatusNotFound)
	expectStatus(t, "outsider restore", ts.do(t, outsider, http.MethodPost, "/api/v1/files/"+file.ID+"/restore", "", ""), http.StatusNotFound)

	// восстановление и безвозвратное удаление
	restored := ts.do(t, admin, http.MethodPost, "/api/v1/files/"+file.ID+"/restore", "", "")
	expectStatus(t, "restore", restored, http.StatusOK)
	if rec := decode[model.FileRecord](t, restored); rec.MarkedForDeletion || rec.MarkedAt != nil {
		t.Errorf("после восстановления = %+v", rec)
	}

	expectStatus(t, "purge", ts.do(t, admin, http.MethodDelete, "/api/v1/files/"+file.ID, "", ""), http.StatusNoContent)
	expectStatus(t, "get after purge", ts.do(t, member, http.MethodGet, "/api/v1/files/"+file.ID, "", ""), http.StatusNotFound)
	expectStatus(t, "purge again", ts.do(t, admin, http.MethodDelete, "/api/v1/files/"+file.ID, "", ""), http.StatusNotFound)

	favs := decode[map[string][]string](t, ts.do(t, member, http.MethodGet, "/api/v1/favorites", "", ""))
	if len(favs["file_ids"]) != 0 {
		t.Errorf("избранное удалённого файла осталось: %v", favs)
	}
	if _, err := os.Stat(filepath.Join(ts.blobDir, ref)); !os.IsNotExist(err) {
		t.Error("содержимое не удалено после purge")
	}
}

// TestServer_PurgeBySeparateSweeper — очистка отдельным процессом
// (filevault-sweep) сразу видна через API работающего сервиса.
func TestServer_PurgeBySeparateSweeper(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token(t, "user-a", "org-s", "org:admin")

	up := ts.do(t, admin, http.MethodPost, "/api/v1/uploads", "text/csv", "a,b\n")
	expectStatus(t, "upload", up, http.StatusCreated)
	ref := decode[map[string]string](t, up)["content_ref"]
	created := ts.do(t, admin, http.MethodPost, "/api/v1/files", "application/json",
		`{"name":"old.csv","type":"csv","content_ref":"`+ref+`"}`)
	expectStatus(t, "create", created, http.StatusCreated)
	file := decode[model.FileRecord](t, created)

	expectStatus(t, "get", ts.do(t, admin, http.MethodGet, "/api/v1/files/"+file.ID, "", ""), http.StatusOK)
	expectStatus(t, "download", ts.do(t, admin, http.MethodGet, "/api/v1/files/"+file.ID+"/download", "", ""), http.StatusFound)
	expectStatus(t, "mark", ts.do(t, admin, http.MethodPost, "/api/v1/files/"+file.ID+"/delete", "", ""), http.StatusOK)

	logger := testLogger()
	purger := service.NewFileService(ts.store.Files(), nil, logger)
	sweeper := service.NewPurgeSweeper(ts.store.Files(), purger, nil, time.Hour, 0, 10, logger)
	result, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Purged != 1 {
		t.Fatalf("результат очистки = %+v, ожидалось 1 удаление", result)
	}

	expectStatus(t, "get after sweep", ts.do(t, admin, http.MethodGet, "/api/v1/files/"+file.ID, "", ""), http.StatusNotFound)
	expectStatus(t, "download after sweep", ts.do(t, admin, http.MethodGet, "/api/v1/files/"+file.ID+"/download", "", ""), http.StatusNotFound)
}

func TestServer_PersonalSpace(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.token(t, "user-alice", "", "")
	bob := ts.token(t, "user-bob", "", "")

	me := decode[model.Identity](t, ts.do(t, alice, http.MethodGet, "/api/v1/me", "", ""))
	want := model.Identity{PrincipalID: "user-alice", SpaceID: "user-alice", Role: model.RoleAdmin, Personal: true}
	if me != want {
		t.Errorf("me = %+v, хотели %+v", me, want)
	}

	created := ts.do(t, alice, http.MethodPost, "/api/v1/files", "application/json",
		`{"name":"scan.png","type":"image","content_ref":"external-ref"}`)
	expectStatus(t, "create", created, http.StatusCreated)
	file := decode[model.FileRecord](t, created)

	// владелец личного пространства — его администратор
	expectStatus(t, "owner delete", ts.do(t, alice, http.MethodPost, "/api/v1/files/"+file.ID+"/delete", "", ""), http.StatusOK)
	expectStatus(t, "other user get", ts.do(t, bob, http.MethodGet, "/api/v1/files/"+file.ID, "", ""), http.StatusNotFound)

	// ссылка, выданная не хранилищем, не даёт url
	list := decode[fileList](t, ts.do(t, alice, http.MethodGet, "/api/v1/files?deleted=true", "", ""))
	if list.Total != 1 || list.Items[0].URL != "" {
		t.Errorf("выдача = %+v", list)
	}
	expectStatus(t, "download", ts.do(t, alice, http.MethodGet, "/api/v1/files/"+file.ID+"/download", "", ""), http.StatusNotFound)
}

func TestServer_RequestErrors(t *testing.T) {
	ts := newTestServer(t)
	member := ts.token(t, "user-p", "org-s", "org:member")

	tests := []struct {
		name        string
		token       string
		method      string
		path        string
		contentType string
		body        string
		wantStatus  int
		wantCode    string
	}{
		{"без токена", "", http.MethodGet, "/api/v1/files", "", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"невалидный токен", "garbage", http.MethodGet, "/api/v1/me", "", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"недопустимый тип", member, http.MethodPost, "/api/v1/files", "application/json",
			`{"name":"a.doc","type":"doc","content_ref":"r"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"пустое имя", member, http.MethodPost, "/api/v1/files", "application/json",
			`{"name":"   ","type":"pdf","content_ref":"r"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"нет файла", member, http.MethodGet, "/api/v1/files/00000000-0000-0000-0000-000000000000", "", "", http.StatusNotFound, "NOT_FOUND"},
		{"избранное несуществующего", member, http.MethodPost, "/api/v1/files/missing/favorite", "", "", http.StatusNotFound, "NOT_FOUND"},
		{"пустая загрузка", member, http.MethodPost, "/api/v1/uploads", "application/pdf", "", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ts.do(t, tt.token, tt.method, tt.path, tt.contentType, tt.body)
			expectStatus(t, tt.name, r, tt.wantStatus)
			if code := decode[errorResponse](t, r).Error.Code; code != tt.wantCode {
				t.Errorf("код = %s, хотели %s", code, tt.wantCode)
			}
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	ready := ts.do(t, "", http.MethodGet, "/health/ready", "", "")
	expectStatus(t, "ready", ready, http.StatusOK)
	if status := decode[map[string]any](t, ready)["status"]; status != "ok" {
		t.Errorf("status = %v", status)
	}
	expectStatus(t, "live", ts.do(t, "", http.MethodGet, "/health/live", "", ""), http.StatusOK)

	ts.do(t, "", http.MethodGet, "/api/v1/files", "", "")
	metrics := ts.do(t, "", http.MethodGet, "/metrics", "", "")
	expectStatus(t, "metrics", metrics, http.StatusOK)
	if !strings.Contains(string(metrics.body), "fv_http_requests_total") {
		t.Error("нет метрики fv_http_requests_total")
	}
}
