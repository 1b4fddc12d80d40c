package google

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeProvider serves the discovery document, the OpenID configuration,
// the token endpoint and the events list.
type fakeProvider struct {
	srv *httptest.Server

	discoveryHits atomic.Int32
	openIDHits    atomic.Int32

	mu          sync.Mutex
	lastQuery   url.Values
	lastAuth    string
	eventStatus int
	items       []map[string]interface{}
	discovery   string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{eventStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/discovery", func(w http.ResponseWriter, r *http.Request) {
		f.discoveryHits.Add(1)
		f.mu.Lock()
		body := f.discovery
		f.mu.Unlock()
		if body == "" {
			body = fmt.Sprintf(`{"rootUrl":%q,"servicePath":"calendar/v3/","resources":{"events":{"methods":{"list":{}}}}}`, f.srv.URL+"/")
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("/openid", func(w http.ResponseWriter, r *http.Request) {
		f.openIDHits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": f.srv.URL + "/auth",
			"token_endpoint":         f.srv.URL + "/token",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer issued-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"email":"Owner@Example.com","name":"Owner","picture":"https://img.example/owner.png","verified_email":true}`))
	})
	mux.HandleFunc("/calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastQuery = r.URL.Query()
		f.lastAuth = r.Header.Get("Authorization")
		status := f.eventStatus
		items := f.items
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"failure"}}`, status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) config() Config {
	return Config{
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		RedirectURL:      "http://localhost/callback",
		Scopes:           []string{"openid", "https://www.googleapis.com/auth/calendar.readonly"},
		DiscoveryDocURL:  f.srv.URL + "/discovery",
		OpenIDConfigURL:  f.srv.URL + "/openid",
		UserinfoEndpoint: f.srv.URL + "/",
	}
}

func (f *fakeProvider) setEvents(status int, items ...map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventStatus = status
	f.items = items
}

func (f *fakeProvider) query() (url.Values, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery, f.lastAuth
}

func event(id, summary, date string) map[string]interface{} {
	return map[string]interface{}{
		"id":       id,
		"summary":  summary,
		"start":    map[string]string{"dateTime": date + "T09:00:00Z"},
		"end":      map[string]string{"dateTime": date + "T09:15:00Z"},
		"htmlLink": "https://calendar.example/" + id,
	}
}
