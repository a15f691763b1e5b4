package waprovider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type capturedRequest struct {
	method string
	url    string
	header http.Header
	body   map[string]any
}

func newTestClient(t *testing.T, status int, respBody string, captured *capturedRequest) *Client {
	t.Helper()
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured.method = req.Method
		captured.url = req.URL.String()
		captured.header = req.Header.Clone()
		if req.Body != nil {
			raw, err := io.ReadAll(req.Body)
			if err != nil {
				t.Fatalf("read request body: %v", err)
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &captured.body); err != nil {
					t.Fatalf("unmarshal request body: %v", err)
				}
			}
		}
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})
	client, err := NewClient("http://bridge.test/api/", WithHTTPClient(&http.Client{Transport: rt}), WithToken("secret"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestSendMessageRequest(t *testing.T) {
	var captured capturedRequest
	client := newTestClient(t, http.StatusOK, `{"messageId":"wamid.1"}`, &captured)

	id, err := client.SendMessage(context.Background(), "s1", SendRequest{To: "15550002@c.us", Content: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.1" {
		t.Fatalf("unexpected message id %q", id)
	}
	if captured.method != http.MethodPost || captured.url != "http://bridge.test/api/sessions/s1/messages" {
		t.Fatalf("unexpected request %s %s", captured.method, captured.url)
	}
	if captured.header.Get("Authorization") != "Bearer secret" {
		t.Fatalf("missing bearer token")
	}
	if captured.body["to"] != "15550002@c.us" || captured.body["content"] != "hi" {
		t.Fatalf("unexpected body %+v", captured.body)
	}
}

func TestChatPathsAreEscaped(t *testing.T) {
	var captured capturedRequest
	client := newTestClient(t, http.StatusNoContent, "", &captured)

	if err := client.DeleteMessage(context.Background(), "s1", "1555/0002@c.us", "m1", true); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if captured.method != http.MethodDelete {
		t.Fatalf("unexpected method %s", captured.method)
	}
	if captured.url != "http://bridge.test/api/sessions/s1/chats/1555%2F0002@c.us/messages/m1?forEveryone=true" {
		t.Fatalf("unexpected url %s", captured.url)
	}
}

func TestReactMessageSendsEmptyEmoji(t *testing.T) {
	var captured capturedRequest
	client := newTestClient(t, http.StatusOK, `{}`, &captured)

	if err := client.ReactMessage(context.Background(), "s1", "c1", "m1", ""); err != nil {
		t.Fatalf("react: %v", err)
	}
	if captured.method != http.MethodPut || !strings.HasSuffix(captured.url, "/messages/m1/reaction") {
		t.Fatalf("unexpected request %s %s", captured.method, captured.url)
	}
	if emoji, ok := captured.body["emoji"]; !ok || emoji != "" {
		t.Fatalf("expected empty emoji in body, got %+v", captured.body)
	}
}

func TestStopCarriesLogoutFlag(t *testing.T) {
	var captured capturedRequest
	client := newTestClient(t, http.StatusOK, `{}`, &captured)

	if err := client.Stop(context.Background(), "s1", true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if captured.body["logout"] != true {
		t.Fatalf("expected logout flag, got %+v", captured.body)
	}
}

func TestErrorStatusMapsToDependencyError(t *testing.T) {
	var captured capturedRequest
	client := newTestClient(t, http.StatusBadGateway, "bridge offline", &captured)

	err := client.Start(context.Background(), "s1")
	if err == nil {
		t.Fatalf("expected error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if cause := typed.Unwrap(); cause == nil || !strings.Contains(cause.Error(), "bridge offline") {
		t.Fatalf("expected response body in cause, got %v", cause)
	}
}

func TestNotFoundStatusMapsToNotFound(t *testing.T) {
	var captured capturedRequest
	client := newTestClient(t, http.StatusNotFound, "no such session", &captured)

	err := client.Destroy(context.Background(), "s1")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}
