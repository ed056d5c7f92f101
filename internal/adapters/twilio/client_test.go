package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTo = r.PostForm.Get("To")
		gotFrom = r.PostForm.Get("From")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{AccountSID: "AC42", AuthToken: "secret", BaseURL: srv.URL})
	err := client.Send(context.Background(), "5551230001", "5551239999", "A3 grounding")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC42/Messages.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotUser != "AC42" || gotPass != "secret" {
		t.Fatalf("auth = %q:%q", gotUser, gotPass)
	}
	if gotTo != "5551230001" || gotFrom != "5551239999" || gotBody != "A3 grounding" {
		t.Fatalf("form = to %q from %q body %q", gotTo, gotFrom, gotBody)
	}
}

func TestSendGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To number"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{AccountSID: "AC42", AuthToken: "secret", BaseURL: srv.URL})
	if err := client.Send(context.Background(), "bogus", "5551239999", "hi"); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
