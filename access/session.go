package access

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const DefaultSessionTTL = 24 * time.Hour

// SessionStore keeps authenticated sessions in memory, keyed by the
// caller's address. A session is valid for the configured TTL from
// creation; expired entries are purged on verification.
type SessionStore struct {
	mx       *sync.Mutex
	sessions map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		mx:       &sync.Mutex{},
		sessions: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (ss *SessionStore) CreateSession(address string) {
	ss.mx.Lock()
	defer ss.mx.Unlock()
	ss.sessions[address] = ss.now()
}

func (ss *SessionStore) VerifySession(address string) bool {
	ss.mx.Lock()
	defer ss.mx.Unlock()

	created, ok := ss.sessions[address]
	if !ok {
		return false
	}
	if ss.now().Sub(created) > ss.ttl {
		delete(ss.sessions, address)
		return false
	}
	return true
}

// SignatureVerifier checks that the caller proved control of the
// claimed address. The scheme itself is deployment-specific; the gate
// only consumes the boolean outcome.
type SignatureVerifier interface {
	Verify(message, signature, address string) bool
}

// HMACVerifier verifies hex-encoded HMAC-SHA256 signatures produced
// with a shared secret over address and message.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(message, signature, address string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(address))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(message))
	return hmac.Equal(sig, mac.Sum(nil))
}

// SignHMAC produces the signature HMACVerifier expects. Counterpart for
// clients and tests.
func SignHMAC(secret, address, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(address))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
