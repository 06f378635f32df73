package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHealthPath(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"https://idp.example.test/.well-known/jwks.json", "/.well-known/jwks.json", false},
		{"http://keycloak:8080/realms/fv/protocol/openid-connect/certs", "/realms/fv/protocol/openid-connect/certs", false},
		{"https://idp.example.test", "/", false},
		{"https://idp.example.test/jwks?kid=1", "/jwks?kid=1", false},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := healthPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, ожидалась: %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("хотели %q, получили %q", tt.want, got)
			}
		})
	}
}

func TestDephealthService_StartStop(t *testing.T) {
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer mockServer.Close()

	ds, err := NewDephealthServiceWithRegisterer(DephealthConfig{
		ServiceID:     "filevault-test",
		Group:         "filevault",
		JWKSURL:       mockServer.URL + "/jwks",
		CheckInterval: time.Second,
	}, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Ошибка создания DephealthService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ds.Start(ctx); err != nil {
		t.Fatalf("Ошибка запуска: %v", err)
	}

	// первая проверка: интервал 1s + запас
	time.Sleep(3 * time.Second)

	found := false
	for key, ok := range ds.Health() {
		if strings.HasPrefix(key, "identity-provider:") {
			found = true
			if !ok {
				t.Errorf("identity-provider health = false для ключа %q", key)
			}
		}
	}
	if !found {
		t.Errorf("нет записи identity-provider в Health(): %v", ds.Health())
	}

	ds.Stop()
}
