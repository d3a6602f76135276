// Package manifest signs and verifies upgrade manifests. A manifest states which
// behavior version an owner approved and the storage schema it expects; the upgrade
// controller installs a behavior through a manifest only if the COSE_Sign1 signature
// verifies against the registered owner key and the manifest matches the behavior.
package manifest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Manifest is the signed upgrade statement.
type Manifest struct {
	Version       string `cbor:"1,keyasint" json:"version"`
	SchemaVersion uint32 `cbor:"2,keyasint" json:"schema_version"`
	FieldCount    int    `cbor:"3,keyasint" json:"field_count"`
}

// Sign encodes m and signs it as a tagged COSE_Sign1 message with ES256.
func Sign(m Manifest, key crypto.Signer) ([]byte, error) {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	return msg.MarshalCBOR()
}

// Verify checks the signature of a COSE_Sign1 manifest against pub and returns the
// decoded manifest. Both tagged and untagged messages are accepted.
func Verify(data []byte, pub *ecdsa.PublicKey) (Manifest, error) {
	msg, err := parse(data)
	if err != nil {
		return Manifest{}, err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return Manifest{}, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return Manifest{}, fmt.Errorf("COSE signature verification failed: %w", err)
	}

	return decodePayload(msg.Payload)
}

// Peek decodes the manifest without verifying its signature. For display only.
func Peek(data []byte) (Manifest, error) {
	msg, err := parse(data)
	if err != nil {
		return Manifest{}, err
	}
	return decodePayload(msg.Payload)
}

func parse(data []byte) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err == nil {
		return &msg, nil
	}
	var untagged cose.UntaggedSign1Message
	if err := untagged.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	m := cose.Sign1Message(untagged)
	return &m, nil
}

func decodePayload(payload []byte) (Manifest, error) {
	if len(payload) == 0 {
		return Manifest{}, fmt.Errorf("manifest payload is empty")
	}
	var m Manifest
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// ParsePublicKey reads a PEM encoded PKIX ECDSA public key.
func ParsePublicKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecdsaKey, nil
}
