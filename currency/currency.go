package currency

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Kind distinguishes the two currency variants accepted for bidding.
type Kind uint8

const (
	KindNative Kind = iota + 1
	KindToken
)

const (
	nativeID    = "native"
	tokenPrefix = "token:"
)

// Currency is a closed variant: either the native coin or a token identified by its
// reference. The zero value is invalid.
type Currency struct {
	kind Kind
	ref  string
}

// Native returns the native coin currency.
func Native() Currency {
	return Currency{kind: KindNative}
}

// Token returns the token currency with the given reference.
func Token(ref string) Currency {
	return Currency{kind: KindToken, ref: ref}
}

func (c Currency) Kind() Kind { return c.kind }

func (c Currency) IsNative() bool { return c.kind == KindNative }

// Equal reports whether both values name the same currency.
func (c Currency) Equal(other Currency) bool {
	return c.kind == other.kind && c.ref == other.ref
}

// Ref returns the token reference, or "" for the native coin.
func (c Currency) Ref() string { return c.ref }

// IsValid reports whether c was built by Native or Token with a non-empty reference.
func (c Currency) IsValid() bool {
	switch c.kind {
	case KindNative:
		return c.ref == ""
	case KindToken:
		return c.ref != ""
	default:
		return false
	}
}

// ID is the stable string form used as a map key in storage and on the wire.
func (c Currency) ID() string {
	switch c.kind {
	case KindNative:
		return nativeID
	case KindToken:
		return tokenPrefix + c.ref
	default:
		return ""
	}
}

func (c Currency) String() string {
	if id := c.ID(); id != "" {
		return id
	}
	return "invalid"
}

// Parse reverses ID.
func Parse(id string) (Currency, error) {
	switch {
	case id == nativeID:
		return Native(), nil
	case strings.HasPrefix(id, tokenPrefix) && len(id) > len(tokenPrefix):
		return Token(strings.TrimPrefix(id, tokenPrefix)), nil
	default:
		return Currency{}, fmt.Errorf("invalid currency id %q", id)
	}
}

// MarshalText encodes the zero Currency as empty text, the form records without a bid
// carry.
func (c Currency) MarshalText() ([]byte, error) {
	if c.kind == 0 {
		return []byte{}, nil
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid currency")
	}
	return []byte(c.ID()), nil
}

func (c *Currency) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = Currency{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalCBOR encodes the currency as its ID text string so stored layouts stay
// readable by any CBOR decoder.
func (c Currency) MarshalCBOR() ([]byte, error) {
	if c.kind == 0 {
		return cbor.Marshal(nil)
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid currency")
	}
	return cbor.Marshal(c.ID())
}

func (c *Currency) UnmarshalCBOR(data []byte) error {
	var id *string
	if err := cbor.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("decode currency: %w", err)
	}
	if id == nil {
		*c = Currency{}
		return nil
	}
	return c.UnmarshalText([]byte(*id))
}
