package manifest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/veraison/go-cose"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	return key
}

func TestSignVerify(t *testing.T) {
	key := newKey(t)
	m := Manifest{Version: "v2", SchemaVersion: 2, FieldCount: 8}

	signed, err := Sign(m, key)
	assert.NoError(t, err)

	got, err := Verify(signed, &key.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, m, got)

	peeked, err := Peek(signed)
	assert.NoError(t, err)
	check.Equal(t, m, peeked)
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	signed, err := Sign(Manifest{Version: "v2", SchemaVersion: 2, FieldCount: 8}, newKey(t))
	assert.NoError(t, err)

	_, err = Verify(signed, &newKey(t).PublicKey)
	check.Error(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key := newKey(t)
	signed, err := Sign(Manifest{Version: "v2", SchemaVersion: 2, FieldCount: 8}, key)
	assert.NoError(t, err)

	var msg cose.Sign1Message
	assert.NoError(t, msg.UnmarshalCBOR(signed))
	forged, err := Sign(Manifest{Version: "v9", SchemaVersion: 9, FieldCount: 1}, newKey(t))
	assert.NoError(t, err)
	var other cose.Sign1Message
	assert.NoError(t, other.UnmarshalCBOR(forged))
	msg.Payload = other.Payload

	tampered, err := msg.MarshalCBOR()
	assert.NoError(t, err)
	_, err = Verify(tampered, &key.PublicKey)
	check.Error(t, err)
}

func TestVerifyUntagged(t *testing.T) {
	key := newKey(t)
	signed, err := Sign(Manifest{Version: "v1", SchemaVersion: 1, FieldCount: 7}, key)
	assert.NoError(t, err)

	var msg cose.Sign1Message
	assert.NoError(t, msg.UnmarshalCBOR(signed))
	untagged, err := (*cose.UntaggedSign1Message)(&msg).MarshalCBOR()
	assert.NoError(t, err)

	got, err := Verify(untagged, &key.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, "v1", got.Version)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := Verify([]byte("not cose"), &newKey(t).PublicKey)
	check.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	assert.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	pub, err := ParsePublicKey(pemBytes)
	assert.NoError(t, err)
	check.True(t, pub.Equal(&key.PublicKey))

	_, err = ParsePublicKey([]byte("junk"))
	check.Error(t, err)
}
