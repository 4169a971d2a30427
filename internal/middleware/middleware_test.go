package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/auth"
)

func TestAuth(t *testing.T) {
	signer := auth.NewSigner([]byte("test-secret"))

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r) != 123 {
			t.Errorf("expected userID 123, got %v", UserID(r))
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{
			name:           "Valid Token",
			header:         "Bearer " + signer.Sign(123),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Tampered Token",
			header:         "Bearer " + signer.Sign(123) + "x",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Foreign Secret",
			header:         "Bearer " + auth.NewSigner([]byte("other")).Sign(123),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Scheme",
			header:         "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()

			Auth(signer)(nextHandler).ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v",
					rr.Code, tt.expectedStatus)
			}
		})
	}

	t.Run("Missing Header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rr := httptest.NewRecorder()

		Auth(signer)(nextHandler).ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v",
				rr.Code, http.StatusUnauthorized)
		}
	})
}

func TestUserIDWithoutAuth(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if UserID(req) != 0 {
		t.Error("expected zero user id without auth context")
	}
}

func TestLogging(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	Logging(logrus.NewEntry(log))(nextHandler).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("handler returned wrong status code: got %v want %v",
			rr.Code, http.StatusNotFound)
	}
}

// mockHijacker implements http.Hijacker for the passthrough test.
type mockHijacker struct {
	httptest.ResponseRecorder
}

func (m *mockHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestLoggingHijackPassthrough(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Error("ResponseWriter does not implement http.Hijacker")
			return
		}
		if _, _, err := hijacker.Hijack(); err != nil {
			t.Errorf("Hijack failed: %v", err)
		}
	})

	req := httptest.NewRequest("GET", "/", nil)
	mockWriter := &mockHijacker{ResponseRecorder: *httptest.NewRecorder()}

	Logging(logrus.NewEntry(log))(nextHandler).ServeHTTP(mockWriter, req)
}
