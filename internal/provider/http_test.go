package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func creds(orgID string) (Credentials, bool) {
	if orgID != "org-1" {
		return Credentials{}, false
	}
	return Credentials{AppID: "app", Secret: "s3cret"}, true
}

func TestHTTPClient_ListSendsAuthAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "app" || pass != "s3cret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if r.URL.Path != "/people/v2/people" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("per_page"); got != "25" {
			t.Errorf("per_page = %q", got)
		}
		_, _ = io.WriteString(w, `{
			"data": [{"type": "Person", "id": "1", "attributes": {"first_name": "Ada"},
			          "relationships": {"primary_campus": {"data": {"type": "Campus", "id": "9"}}}}],
			"included": [],
			"meta": {"total_count": 30, "count": 25, "next": {"offset": 25}}
		}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Credentials: creds})
	resp, err := c.List(context.Background(), "org-1", "/people/v2/people", map[string]string{"per_page": "25"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "1" {
		t.Fatalf("unexpected data: %+v", resp.Data)
	}
	if resp.Meta.Next == nil || resp.Meta.Next.Offset != 25 {
		t.Fatalf("next offset mismatch: %+v", resp.Meta.Next)
	}
	rel := resp.Data[0].Relationships["primary_campus"].Data
	if rel.One == nil || rel.One.ID != "9" {
		t.Fatalf("relationship not decoded: %+v", rel)
	}
}

func TestHTTPClient_ErrorStatusIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"errors":[{"title":"Internal Server Error"}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Credentials: creds})
	_, err := c.Get(context.Background(), "org-1", "/people/v2/people/1", nil)
	if !apperrors.HasCode(err, apperrors.CodeFetch) {
		t.Fatalf("expected FETCH_ERROR, got %v", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Fatalf("fetch errors must be retryable")
	}
}

func TestHTTPClient_UnknownOrg(t *testing.T) {
	c := NewHTTPClient(HTTPClientOptions{BaseURL: "http://127.0.0.1:1", Credentials: creds})
	if _, err := c.List(context.Background(), "nope", "/x", nil); !apperrors.HasCode(err, apperrors.CodeFetch) {
		t.Fatalf("expected FETCH_ERROR, got %v", err)
	}
}

func TestHTTPClient_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"type":"Campus","id":"3","attributes":{}}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Credentials: creds, MaxRateLimitRetries: 2, MaxDelay: 10 * time.Millisecond})
	doc, err := c.Get(context.Background(), "org-1", "/people/v2/campuses/3", nil)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if doc.Data.ID != "3" || hits.Load() != 2 {
		t.Fatalf("id=%q hits=%d", doc.Data.ID, hits.Load())
	}
}

func TestHTTPClient_CreateWrapsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var body struct {
			Data Resource `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Data.Type != "Subscription" || body.Data.Attributes["name"] != "people.v2.events.person.created" {
			t.Errorf("unexpected body: %+v", body.Data)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"type":"Subscription","id":"77","attributes":{"active":true}}}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Credentials: creds})
	doc, err := c.Create(context.Background(), "org-1", "/webhooks/v2/webhook_subscriptions", Resource{
		Type:       "Subscription",
		Attributes: map[string]any{"name": "people.v2.events.person.created"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if doc.Data.ID != "77" {
		t.Fatalf("id mismatch: %q", doc.Data.ID)
	}
}

func TestMockClient_Pagination(t *testing.T) {
	m := NewMockClient()
	m.SeedList("/x", make35())

	first, err := m.List(context.Background(), "org", "/x", map[string]string{"per_page": "25"})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Data) != 25 || first.Meta.Next == nil || first.Meta.Next.Offset != 25 {
		t.Fatalf("first page mismatch: %d %+v", len(first.Data), first.Meta.Next)
	}
	second, err := m.List(context.Background(), "org", "/x", map[string]string{"per_page": "25", "offset": "25"})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Data) != 10 || second.Meta.Next != nil {
		t.Fatalf("second page mismatch: %d %+v", len(second.Data), second.Meta.Next)
	}
	if n := len(m.Calls("list")); n != 2 {
		t.Fatalf("list calls = %d", n)
	}
}

func TestHealthChecker(t *testing.T) {
	m := NewMockClient()
	m.Fail("list", "/people/v2", apperrors.ErrFetch("list", 503, nil))
	hc := NewHealthChecker(m, "/people/v2", time.Minute)

	if got := hc.GetHealth("org").Status; got != StatusUnknown {
		t.Fatalf("status before probe = %s", got)
	}
	hc.checkAll(context.Background(), []string{"org"})
	if got := hc.GetHealth("org").Status; got != StatusUnreachable {
		t.Fatalf("status after failed probe = %s", got)
	}
	hc.Stop()
	hc.Stop()
}

func make35() []domain.ExternalEntity {
	out := make([]domain.ExternalEntity, 35)
	for i := range out {
		out[i] = domain.ExternalEntity{Type: "Person", ID: strconv.Itoa(i + 1)}
	}
	return out
}
