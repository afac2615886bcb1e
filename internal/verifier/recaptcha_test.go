// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecaptchaClientAssess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" || r.PostForm.Get("response") != "tok" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"score":0.7,"action":"DEPLOY","hostname":"example.org"}`))
	}))
	defer srv.Close()

	c := NewRecaptchaClient("s3cret", srv.Client())
	c.endpoint = srv.URL

	a, err := c.Assess(context.Background(), "tok", "DEPLOY")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if !a.Valid || a.Score != 0.7 || a.Action != "DEPLOY" {
		t.Fatalf("unexpected assessment %+v", a)
	}
}

func TestRecaptchaClientReportsErrorCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	c := NewRecaptchaClient("s3cret", srv.Client())
	c.endpoint = srv.URL

	a, err := c.Assess(context.Background(), "tok", "DEPLOY")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.Valid || len(a.Reasons) != 1 || a.Reasons[0] != "invalid-input-response" {
		t.Fatalf("unexpected assessment %+v", a)
	}
}

func TestRecaptchaClientNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRecaptchaClient("s3cret", srv.Client())
	c.endpoint = srv.URL

	if _, err := c.Assess(context.Background(), "tok", "DEPLOY"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
