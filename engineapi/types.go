// Package engineapi holds the JSON wire types spoken by cmd/auction-server. Each
// connection carries one request object and receives one response object.
package engineapi

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/events"
)

// Request types.
const (
	TypePing          = "ping"
	TypeCreateAuction = "create_auction"
	TypeBidNative     = "bid_native"
	TypeBidToken      = "bid_token"
	TypeEndAuction    = "end_auction"
	TypeWithdraw      = "withdraw"
	TypeSetFeed       = "set_feed"
	TypeGetAuction    = "get_auction"
	TypeGetPending    = "get_pending"
	TypeHistory       = "history"

	// Collaborator actions for demo deployments with in-memory custody.
	TypeFund      = "fund"
	TypeApprove   = "approve"
	TypeMintAsset = "mint_asset"
)

// Response types.
const (
	TypePong   = "pong"
	TypeResult = "result"
	TypeError  = "error"
)

// Amount is an unsigned integer in raw units, carried as a decimal string so that
// 256-bit values survive JSON clients that read numbers as floats.
type Amount string

// AmountOf formats v. A nil v is the empty amount.
func AmountOf(v *big.Int) Amount {
	if v == nil {
		return ""
	}
	return Amount(v.String())
}

// Int parses the amount. The empty amount is zero.
func (a Amount) Int() (*big.Int, error) {
	if a == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(string(a), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", string(a))
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", string(a))
	}
	return v, nil
}

// Envelope is the part every request shares; the server decodes it first to route.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// DecodeEnvelope reads the envelope of a raw request.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode request envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("request has no type")
	}
	return env, nil
}

type CreateAuctionRequest struct {
	Envelope
	Sender           string `json:"sender"`
	AssetRef         string `json:"asset_ref"`
	AssetID          Amount `json:"asset_id"`
	MinAcceptedValue Amount `json:"min_accepted_value"` // canonical units, 18 decimals
	DurationSeconds  int64  `json:"duration_seconds"`
}

// Duration converts DurationSeconds.
func (r CreateAuctionRequest) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// BidNativeRequest attaches Value of the native coin to the bid.
type BidNativeRequest struct {
	Envelope
	Sender    string `json:"sender"`
	AuctionID uint64 `json:"auction_id"`
	Value     Amount `json:"value"`
}

// BidTokenRequest bids Amount of TokenRef. The sender must have approved the engine.
type BidTokenRequest struct {
	Envelope
	Sender    string `json:"sender"`
	AuctionID uint64 `json:"auction_id"`
	TokenRef  string `json:"token_ref"`
	Amount    Amount `json:"amount"`
}

type EndAuctionRequest struct {
	Envelope
	Sender    string `json:"sender"`
	AuctionID uint64 `json:"auction_id"`
}

type WithdrawRequest struct {
	Envelope
	Sender   string `json:"sender"`
	Currency string `json:"currency"` // currency id: "native" or "token:<ref>"
}

type SetFeedRequest struct {
	Envelope
	Sender   string `json:"sender"`
	Currency string `json:"currency"`
	FeedRef  string `json:"feed_ref"`
}

type GetAuctionRequest struct {
	Envelope
	AuctionID uint64 `json:"auction_id"`
}

type GetPendingRequest struct {
	Envelope
	Bidder   string `json:"bidder"`
	Currency string `json:"currency"`
}

// HistoryRequest lists published events, all of them when AuctionID is zero.
type HistoryRequest struct {
	Envelope
	AuctionID uint64 `json:"auction_id,omitempty"`
}

// FundRequest mints Amount of Currency to Account.
type FundRequest struct {
	Envelope
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Amount   Amount `json:"amount"`
}

// ApproveRequest sets the engine's token allowance for Owner.
type ApproveRequest struct {
	Envelope
	Owner    string `json:"owner"`
	TokenRef string `json:"token_ref"`
	Amount   Amount `json:"amount"`
}

// MintAssetRequest mints an asset to Owner and approves the engine as its operator.
type MintAssetRequest struct {
	Envelope
	Owner    string `json:"owner"`
	AssetRef string `json:"asset_ref"`
	AssetID  Amount `json:"asset_id"`
}

// AuctionView is an auction record with its derived phase and deadline.
type AuctionView struct {
	*core.AuctionRecord
	Phase   string    `json:"phase"`
	EndTime time.Time `json:"end_time"`
}

// NewAuctionView describes rec as of now.
func NewAuctionView(rec *core.AuctionRecord, now time.Time) *AuctionView {
	return &AuctionView{
		AuctionRecord: rec,
		Phase:         rec.Phase(now).String(),
		EndTime:       rec.EndTime(),
	}
}

// Response answers any request. Only the fields relevant to the request are set.
type Response struct {
	Type           string         `json:"type"`
	RequestID      string         `json:"request_id,omitempty"`
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	AuctionID      uint64         `json:"auction_id,omitempty"`
	Auction        *AuctionView   `json:"auction,omitempty"`
	Amount         Amount         `json:"amount,omitempty"`
	Events         []events.Event `json:"events,omitempty"`
	Timestamp      int64          `json:"timestamp,omitempty"`
	ProcessingTime int64          `json:"processing_time_ms"`
}

// ErrorResponse reports err, classified by its engine error code when it has one.
func ErrorResponse(requestID string, err error) *Response {
	resp := &Response{
		Type:      TypeError,
		RequestID: requestID,
		Message:   err.Error(),
		ErrorCode: core.CodeOf(err),
	}
	if kind := core.KindOf(err); kind != core.KindUnknown {
		resp.ErrorKind = kind.String()
	}
	return resp
}

// Result is a successful response.
func Result(requestID string) *Response {
	return &Response{Type: TypeResult, RequestID: requestID, Success: true}
}
