package auth

import (
	"context"
	"net"
)

// Identity is what the external verifier returns for a valid credential.
type Identity struct {
	SubjectID string
	Email     string
}

// Verifier validates a bearer credential. A nil identity with a nil error
// means the credential is invalid (as opposed to the verifier being down).
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Owner は操作主体（認証済みユーザーまたはゲスト）
type Owner struct {
	ID    string
	Email string
	Guest bool
}

// GuestOwner derives a synthetic owner identity from the caller's network
// address. Guests share the fixed hourly quota keyed by this identity.
func GuestOwner(remoteAddr string) Owner {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	return Owner{ID: "guest:" + host, Guest: true}
}
