package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/engine"
	"github.com/cloudx-io/crossbid/engineapi"
)

// handle routes one raw request and always returns a response.
func (s *server) handle(ctx context.Context, raw []byte) *engineapi.Response {
	started := time.Now()

	env, err := engineapi.DecodeEnvelope(raw)
	if err != nil {
		s.log.Error("failed to decode request", "error", err)
		return engineapi.ErrorResponse("", err)
	}
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	log := s.log.With("request_id", env.RequestID, "type", env.Type)
	log.Debug("received request")

	resp, err := s.dispatch(ctx, env, raw)
	if err != nil {
		log.Info("request rejected", "error", err)
		resp = engineapi.ErrorResponse(env.RequestID, err)
	} else {
		resp.RequestID = env.RequestID
	}
	resp.ProcessingTime = time.Since(started).Milliseconds()
	return resp
}

var errDemoDisabled = errors.New("demo actions are disabled, set DEMO_ACTIONS=true")

func decode[T any](raw []byte) (T, error) {
	var req T
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func (s *server) dispatch(ctx context.Context, env engineapi.Envelope, raw []byte) (*engineapi.Response, error) {
	switch env.Type {
	case engineapi.TypeFund, engineapi.TypeApprove, engineapi.TypeMintAsset:
		if !s.cfg.DemoActions {
			return nil, fmt.Errorf("%s: %w", env.Type, errDemoDisabled)
		}
	}

	switch env.Type {
	case engineapi.TypePing:
		return &engineapi.Response{
			Type:      engineapi.TypePong,
			Success:   true,
			Message:   "auction server is healthy",
			Timestamp: s.proxy.Now().Unix(),
		}, nil

	case engineapi.TypeCreateAuction:
		req, err := decode[engineapi.CreateAuctionRequest](raw)
		if err != nil {
			return nil, err
		}
		return s.createAuction(ctx, req)

	case engineapi.TypeBidNative:
		req, err := decode[engineapi.BidNativeRequest](raw)
		if err != nil {
			return nil, err
		}
		value, err := req.Value.Int()
		if err != nil {
			return nil, err
		}
		if err := s.proxy.BidNative(ctx, engine.Msg{Sender: req.Sender, Value: value}, req.AuctionID); err != nil {
			return nil, err
		}
		return s.auctionResult(ctx, req.AuctionID)

	case engineapi.TypeBidToken:
		req, err := decode[engineapi.BidTokenRequest](raw)
		if err != nil {
			return nil, err
		}
		amount, err := req.Amount.Int()
		if err != nil {
			return nil, err
		}
		if err := s.proxy.BidToken(ctx, engine.Msg{Sender: req.Sender}, req.AuctionID, req.TokenRef, amount); err != nil {
			return nil, err
		}
		return s.auctionResult(ctx, req.AuctionID)

	case engineapi.TypeEndAuction:
		req, err := decode[engineapi.EndAuctionRequest](raw)
		if err != nil {
			return nil, err
		}
		if err := s.proxy.EndAuction(ctx, engine.Msg{Sender: req.Sender}, req.AuctionID); err != nil {
			return nil, err
		}
		return s.auctionResult(ctx, req.AuctionID)

	case engineapi.TypeWithdraw:
		req, err := decode[engineapi.WithdrawRequest](raw)
		if err != nil {
			return nil, err
		}
		c, err := currency.Parse(req.Currency)
		if err != nil {
			return nil, err
		}
		amount, err := s.proxy.Withdraw(ctx, engine.Msg{Sender: req.Sender}, c)
		if err != nil {
			return nil, err
		}
		resp := engineapi.Result("")
		resp.Amount = engineapi.AmountOf(amount)
		return resp, nil

	case engineapi.TypeSetFeed:
		req, err := decode[engineapi.SetFeedRequest](raw)
		if err != nil {
			return nil, err
		}
		c, err := currency.Parse(req.Currency)
		if err != nil {
			return nil, err
		}
		if err := s.proxy.SetCurrencyFeed(ctx, engine.Msg{Sender: req.Sender}, c, req.FeedRef); err != nil {
			return nil, err
		}
		return engineapi.Result(""), nil

	case engineapi.TypeGetAuction:
		req, err := decode[engineapi.GetAuctionRequest](raw)
		if err != nil {
			return nil, err
		}
		return s.auctionResult(ctx, req.AuctionID)

	case engineapi.TypeGetPending:
		req, err := decode[engineapi.GetPendingRequest](raw)
		if err != nil {
			return nil, err
		}
		c, err := currency.Parse(req.Currency)
		if err != nil {
			return nil, err
		}
		resp := engineapi.Result("")
		resp.Amount = engineapi.AmountOf(s.proxy.PendingReturn(ctx, req.Bidder, c))
		return resp, nil

	case engineapi.TypeHistory:
		req, err := decode[engineapi.HistoryRequest](raw)
		if err != nil {
			return nil, err
		}
		resp := engineapi.Result("")
		if req.AuctionID == 0 {
			resp.Events = s.history.Events()
		} else {
			resp.Events = s.history.ForAuction(req.AuctionID)
		}
		return resp, nil

	case engineapi.TypeFund:
		req, err := decode[engineapi.FundRequest](raw)
		if err != nil {
			return nil, err
		}
		return s.fund(ctx, req)

	case engineapi.TypeApprove:
		req, err := decode[engineapi.ApproveRequest](raw)
		if err != nil {
			return nil, err
		}
		return s.approve(ctx, req)

	case engineapi.TypeMintAsset:
		req, err := decode[engineapi.MintAssetRequest](raw)
		if err != nil {
			return nil, err
		}
		return s.mintAsset(ctx, req)

	default:
		return nil, fmt.Errorf("unknown request type: %s", env.Type)
	}
}

func (s *server) createAuction(ctx context.Context, req engineapi.CreateAuctionRequest) (*engineapi.Response, error) {
	assetID, err := req.AssetID.Int()
	if err != nil {
		return nil, err
	}
	reserve, err := req.MinAcceptedValue.Int()
	if err != nil {
		return nil, err
	}
	id, err := s.proxy.CreateAuction(ctx, engine.Msg{Sender: req.Sender}, req.AssetRef, assetID, reserve, req.Duration())
	if err != nil {
		return nil, err
	}
	return s.auctionResult(ctx, id)
}

func (s *server) auctionResult(ctx context.Context, id uint64) (*engineapi.Response, error) {
	rec, err := s.proxy.Auction(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := engineapi.Result("")
	resp.AuctionID = id
	resp.Auction = engineapi.NewAuctionView(rec, s.proxy.Now())
	return resp, nil
}

func (s *server) fund(ctx context.Context, req engineapi.FundRequest) (*engineapi.Response, error) {
	if req.Account == "" {
		return nil, fmt.Errorf("fund: account is required")
	}
	c, err := currency.Parse(req.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := req.Amount.Int()
	if err != nil {
		return nil, err
	}
	resp := engineapi.Result("")
	err = s.proxy.External(ctx, engineapi.TypeFund, func(context.Context) error {
		if c.IsNative() {
			s.bank.Mint(req.Account, amount)
			resp.Amount = engineapi.AmountOf(s.bank.BalanceOf(req.Account))
			return nil
		}
		tok, ok := s.tokens[c.Ref()]
		if !ok {
			return fmt.Errorf("fund: unknown token %s", c.Ref())
		}
		tok.Mint(req.Account, amount)
		resp.Amount = engineapi.AmountOf(tok.BalanceOf(req.Account))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *server) approve(ctx context.Context, req engineapi.ApproveRequest) (*engineapi.Response, error) {
	tok, ok := s.tokens[req.TokenRef]
	if !ok {
		return nil, fmt.Errorf("approve: unknown token %s", req.TokenRef)
	}
	amount, err := req.Amount.Int()
	if err != nil {
		return nil, err
	}
	resp := engineapi.Result("")
	err = s.proxy.External(ctx, engineapi.TypeApprove, func(context.Context) error {
		tok.Approve(req.Owner, s.cfg.EngineAccount, amount)
		resp.Amount = engineapi.AmountOf(tok.Allowance(req.Owner, s.cfg.EngineAccount))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *server) mintAsset(ctx context.Context, req engineapi.MintAssetRequest) (*engineapi.Response, error) {
	col, ok := s.collections[req.AssetRef]
	if !ok {
		return nil, fmt.Errorf("mint_asset: unknown collection %s", req.AssetRef)
	}
	assetID, err := req.AssetID.Int()
	if err != nil {
		return nil, err
	}
	err = s.proxy.External(ctx, engineapi.TypeMintAsset, func(context.Context) error {
		if err := col.Mint(req.Owner, assetID); err != nil {
			return err
		}
		col.SetApprovalForAll(req.Owner, s.cfg.EngineAccount, true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return engineapi.Result(""), nil
}
