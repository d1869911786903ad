package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStoreLifecycle(t *testing.T) {
	now := time.Now()
	ss := NewSessionStore(DefaultSessionTTL)
	ss.now = func() time.Time { return now }

	assert.False(t, ss.VerifySession("alice"))

	ss.CreateSession("alice")
	assert.True(t, ss.VerifySession("alice"))
	assert.False(t, ss.VerifySession("bob"))

	// Still valid right at the TTL boundary.
	now = now.Add(DefaultSessionTTL)
	assert.True(t, ss.VerifySession("alice"))

	now = now.Add(time.Second)
	assert.False(t, ss.VerifySession("alice"))

	// Expiry purges the entry, so even rolling the clock back the
	// session stays gone.
	now = now.Add(-2 * time.Second)
	assert.False(t, ss.VerifySession("alice"))
}

func TestSessionRecreationResetsTTL(t *testing.T) {
	now := time.Now()
	ss := NewSessionStore(time.Hour)
	ss.now = func() time.Time { return now }

	ss.CreateSession("alice")
	now = now.Add(50 * time.Minute)
	ss.CreateSession("alice")
	now = now.Add(50 * time.Minute)
	assert.True(t, ss.VerifySession("alice"))
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("s3cret")

	sig := SignHMAC("s3cret", "alice", "login")
	assert.True(t, v.Verify("login", sig, "alice"))
	assert.False(t, v.Verify("login", sig, "bob"))
	assert.False(t, v.Verify("other", sig, "alice"))
	assert.False(t, v.Verify("login", "not-hex", "alice"))
	assert.False(t, v.Verify("login", SignHMAC("wrong", "alice", "login"), "alice"))
}
