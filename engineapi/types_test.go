package engineapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
)

func TestAmountInt(t *testing.T) {
	tests := []struct {
		name    string
		input   Amount
		want    string
		wantErr bool
	}{
		{name: "empty is zero", input: "", want: "0"},
		{name: "small", input: "42", want: "42"},
		{name: "beyond float precision", input: "115792089237316195423570985008687907853269984665640564039457584007913129639935",
			want: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
		{name: "negative", input: "-1", wantErr: true},
		{name: "decimal point", input: "1.5", wantErr: true},
		{name: "junk", input: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.input.Int()
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.want, got.String())
		})
	}
}

func TestAmountOf(t *testing.T) {
	check.Equal(t, Amount(""), AmountOf(nil))
	check.Equal(t, Amount("61000000000000000"), AmountOf(currency.MustParseUnits("0.061", 18)))
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"bid_native","request_id":"r-1","auction_id":3}`))
	assert.NoError(t, err)
	check.Equal(t, TypeBidNative, env.Type)
	check.Equal(t, "r-1", env.RequestID)

	_, err = DecodeEnvelope([]byte(`{"auction_id":3}`))
	check.Error(t, err)
	_, err = DecodeEnvelope([]byte(`not json`))
	check.Error(t, err)
}

func TestRequestDecoding(t *testing.T) {
	var req CreateAuctionRequest
	raw := `{"type":"create_auction","sender":"seller","asset_ref":"demo","asset_id":"7",` +
		`"min_accepted_value":"100000000000000000000","duration_seconds":3600}`
	assert.NoError(t, json.Unmarshal([]byte(raw), &req))
	check.Equal(t, TypeCreateAuction, req.Type)
	check.Equal(t, "seller", req.Sender)
	check.Equal(t, time.Hour, req.Duration())
	reserve, err := req.MinAcceptedValue.Int()
	assert.NoError(t, err)
	check.Equal(t, currency.MustParseUnits("100", 18).String(), reserve.String())
}

func TestErrorResponse(t *testing.T) {
	err := fmt.Errorf("auction 4: %w", core.ErrBidTooLow)
	resp := ErrorResponse("r-9", err)
	check.Equal(t, TypeError, resp.Type)
	check.False(t, resp.Success)
	check.Equal(t, "BidTooLow", resp.ErrorCode)
	check.Equal(t, "validation", resp.ErrorKind)
	check.Equal(t, "auction 4: BidTooLow", resp.Message)

	plain := ErrorResponse("", errors.New("decode failed"))
	check.Equal(t, "", plain.ErrorCode)
	check.Equal(t, "", plain.ErrorKind)
}

func TestAuctionViewJSON(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &core.AuctionRecord{
		ID: 1, Seller: "seller", AssetRef: "demo", AssetID: big.NewInt(1),
		MinAcceptedValue: big.NewInt(100), StartTime: start, Duration: time.Hour,
		HighestBidValue: new(big.Int), PaymentAmountRaw: new(big.Int),
	}
	resp := Result("r-2")
	resp.Auction = NewAuctionView(rec, start.Add(2*time.Hour))

	data, err := json.Marshal(resp)
	assert.NoError(t, err)
	body := string(data)
	check.True(t, strings.Contains(body, `"phase":"awaiting_settlement"`))
	check.True(t, strings.Contains(body, `"seller":"seller"`))
	check.True(t, strings.Contains(body, `"end_time":"2026-05-01T13:00:00Z"`))
	check.True(t, strings.Contains(body, `"success":true`))
}
