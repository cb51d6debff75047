package blob

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), []byte("test-secret"), time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := newStore(t)
	token, expires := s.SignUploadToken("tenants/acme/documents/d1/a.txt")
	if expires.Before(time.Now()) {
		t.Fatal("token issued already expired")
	}
	if err := s.VerifyUploadToken(token, "tenants/acme/documents/d1/a.txt"); err != nil {
		t.Fatalf("VerifyUploadToken: %v", err)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	s := newStore(t)
	token, _ := s.SignUploadToken("tenants/acme/documents/d1/a.txt")
	err := s.VerifyUploadToken(token, "tenants/acme/documents/d2/a.txt")
	if fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("token must bind to one key, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := newStore(t)
	token, _ := s.SignUploadToken("k")
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := s.VerifyUploadToken(token, "k"); err == nil {
		t.Fatal("expired token must fail")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	s := newStore(t)
	for _, tok := range []string{"", "garbage", "notanumber.abcd", "123"} {
		if err := s.VerifyUploadToken(tok, "k"); err == nil {
			t.Errorf("token %q should fail verification", tok)
		}
	}
}

func TestPutGet(t *testing.T) {
	s := newStore(t)
	n, err := s.Put("tenants/acme/documents/d1/a.txt", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len("payload")) {
		t.Fatalf("wrote %d bytes", n)
	}
	rc, err := s.Get("tenants/acme/documents/d1/a.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("read %q", data)
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get("tenants/acme/documents/none/a.txt")
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newStore(t)
	for _, key := range []string{"", "/etc/passwd", "tenants/../../../etc/passwd", "a/../b"} {
		if _, err := s.Put(key, strings.NewReader("x")); err == nil {
			t.Errorf("key %q should be rejected", key)
		}
	}
}
