package updatecheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"somnia.ai/internal/sim/engine"
)

type inbox struct {
	mu  sync.Mutex
	got []engine.Input
}

func (b *inbox) Submit(in engine.Input) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, in)
	return true
}

func TestNewer(t *testing.T) {
	cases := []struct {
		cand, cur string
		want      bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.2.0-rc.1", "1.2.0", false},
		{"garbage", "1.0.0", false},
		{"1.0.0", "dev", true},
	}
	for _, c := range cases {
		if got := Newer(c.cand, c.cur); got != c.want {
			t.Fatalf("Newer(%q,%q): got %v want %v", c.cand, c.cur, got, c.want)
		}
	}
}

func TestCheckOnce_SubmitsEachVersionOnce(t *testing.T) {
	body := `{"version":"1.4.0","url":"https://example.com/somnia/1.4.0"}`
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(body))
	}))
	defer srv.Close()

	in := &inbox{}
	c := New(Config{URL: srv.URL, Current: "1.3.2"}, in)
	ok, err := c.CheckOnce(context.Background())
	if err != nil || !ok {
		t.Fatalf("first check: got %v,%v want true,nil", ok, err)
	}
	ok, err = c.CheckOnce(context.Background())
	if err != nil || ok {
		t.Fatalf("repeat check: got %v,%v want false,nil", ok, err)
	}
	if len(in.got) != 1 {
		t.Fatalf("submitted: got %d want 1", len(in.got))
	}
	n, isNotice := in.got[0].(engine.UpdateNotice)
	if !isNotice || n.Version != "1.4.0" || n.URL == "" {
		t.Fatalf("notice: got %#v", in.got[0])
	}
}

func TestCheckOnce_PlainTextAndErrors(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(status)
		_, _ = rw.Write([]byte("1.0.0\n"))
	}))
	defer srv.Close()

	in := &inbox{}
	c := New(Config{URL: srv.URL, Current: "1.0.0"}, in)
	if ok, err := c.CheckOnce(context.Background()); err != nil || ok {
		t.Fatalf("same version: got %v,%v want false,nil", ok, err)
	}
	status = http.StatusBadGateway
	if _, err := c.CheckOnce(context.Background()); err == nil {
		t.Fatal("expected error on 502")
	}
	if len(in.got) != 0 {
		t.Fatalf("submitted %d notices, want 0", len(in.got))
	}
}
