package currency

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestCurrencyID(t *testing.T) {
	check.Equal(t, "native", Native().ID())
	check.Equal(t, "token:usdt", Token("usdt").ID())
	check.Equal(t, "", Currency{}.ID())
	check.Equal(t, "invalid", Currency{}.String())
}

func TestCurrencyIsValid(t *testing.T) {
	check.True(t, Native().IsValid())
	check.True(t, Token("dai").IsValid())
	check.False(t, Token("").IsValid())
	check.False(t, Currency{}.IsValid())
}

func TestParse(t *testing.T) {
	tests := []struct {
		id      string
		want    Currency
		wantErr bool
	}{
		{"native", Native(), false},
		{"token:usdt", Token("usdt"), false},
		{"token:", Currency{}, true},
		{"eth", Currency{}, true},
		{"", Currency{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := Parse(tt.id)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.want, got)
		})
	}
}

func TestCurrencyJSONKeyAndValue(t *testing.T) {
	in := map[string]Currency{"paid": Token("usdt")}
	data, err := json.Marshal(in)
	assert.NoError(t, err)
	check.Equal(t, `{"paid":"token:usdt"}`, string(data))

	var out map[string]Currency
	assert.NoError(t, json.Unmarshal(data, &out))
	check.Equal(t, Token("usdt"), out["paid"])

	data, err = json.Marshal(map[string]Currency{"none": {}})
	assert.NoError(t, err)
	check.Equal(t, `{"none":""}`, string(data))
	assert.NoError(t, json.Unmarshal(data, &out))
	check.Equal(t, Currency{}, out["none"])
}

func TestCurrencyCBOR(t *testing.T) {
	type holder struct {
		Paid  Currency `cbor:"1,keyasint"`
		Empty Currency `cbor:"2,keyasint"`
	}

	data, err := cbor.Marshal(holder{Paid: Native()})
	assert.NoError(t, err)

	var out holder
	assert.NoError(t, cbor.Unmarshal(data, &out))
	check.Equal(t, Native(), out.Paid)
	check.Equal(t, Currency{}, out.Empty)
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"fractional native", "0.05", 18, "50000000000000000", false},
		{"whole token six decimals", "60", 6, "60000000", false},
		{"zero", "0", 18, "0", false},
		{"too precise", "0.0000001", 6, "", true},
		{"negative", "-1", 18, "", true},
		{"garbage", "abc", 18, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnits(tt.amount, tt.decimals)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatUnits(t *testing.T) {
	check.Equal(t, "0.05", FormatUnits(big.NewInt(50000000000000000), 18))
	check.Equal(t, "60", FormatUnits(big.NewInt(60000000), 6))
	check.Equal(t, "0", FormatUnits(nil, 18))
}
