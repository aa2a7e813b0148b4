package apiserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/indexer"
	"github.com/coldbell/orca/backend/internal/whirlpool"
)

const defaultSlippagePercent = 0.5

type poolResponse struct {
	Address        string  `json:"address"`
	ProgramID      string  `json:"program_id"`
	MintA          string  `json:"mint_a"`
	MintB          string  `json:"mint_b"`
	VaultA         string  `json:"vault_a"`
	VaultB         string  `json:"vault_b"`
	LPMint         string  `json:"lp_mint"`
	FeeAccount     string  `json:"fee_account"`
	FeeNumerator   uint64  `json:"fee_numerator"`
	FeeDenominator uint64  `json:"fee_denominator"`
	TickSpacing    uint16  `json:"tick_spacing"`
	Liquidity      string  `json:"liquidity"`
	SqrtPrice      string  `json:"sqrt_price"`
	Price          float64 `json:"price"`
	Stale          bool    `json:"stale,omitempty"`
}

type poolHealthResponse struct {
	whirlpool.PoolHealth
	Stale bool  `json:"stale"`
	TS    int64 `json:"ts,omitempty"`
}

type historyResponse struct {
	Pool   string                     `json:"pool"`
	Points []whirlpool.PriceDataPoint `json:"points"`
}

type movingAverageResponse struct {
	Pool   string  `json:"pool"`
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

type klineResponse struct {
	Pool             string            `json:"pool"`
	TimeframeMinutes int               `json:"timeframe_minutes"`
	Candles          []whirlpool.Kline `json:"candles"`
}

type chartCandlesResponse struct {
	Pool        string                 `json:"pool"`
	Source      string                 `json:"source"`
	Timeframe   string                 `json:"timeframe"`
	IntervalSec int64                  `json:"interval_sec"`
	Candles     []indexer.CandleRecord `json:"candles"`
}

type quoteResponse struct {
	whirlpool.QuoteResult
	Pool string `json:"pool"`
}

type tokenPriceResponse struct {
	Base  string  `json:"base"`
	Quote string  `json:"quote"`
	Price float64 `json:"price"`
}

func newPoolResponse(pool *whirlpool.PoolState) poolResponse {
	resp := poolResponse{
		Address:        pool.Address.String(),
		ProgramID:      pool.ProgramID.String(),
		MintA:          pool.MintA.String(),
		MintB:          pool.MintB.String(),
		VaultA:         pool.VaultA.String(),
		VaultB:         pool.VaultB.String(),
		LPMint:         pool.LPMint.String(),
		FeeAccount:     pool.FeeAccount.String(),
		FeeNumerator:   pool.FeeNumerator,
		FeeDenominator: pool.FeeDenominator,
		TickSpacing:    pool.TickSpacing,
		Liquidity:      pool.Liquidity.String(),
		SqrtPrice:      pool.SqrtPrice.String(),
	}
	// A pool with a zero sqrt price still has a valid layout; report price 0.
	if price, err := pool.Price(); err == nil {
		resp.Price = price
	}
	return resp
}

func storedPoolResponse(record indexer.PoolRecord) poolResponse {
	return poolResponse{
		Address:        record.Address,
		ProgramID:      record.ProgramID,
		MintA:          record.MintA,
		MintB:          record.MintB,
		VaultA:         record.VaultA,
		VaultB:         record.VaultB,
		LPMint:         record.LPMint,
		FeeAccount:     record.FeeAccount,
		FeeNumerator:   record.FeeNumerator,
		FeeDenominator: record.FeeDenominator,
		TickSpacing:    record.TickSpacing,
		Liquidity:      record.Liquidity,
		SqrtPrice:      record.SqrtPrice,
		Price:          record.Price,
		Stale:          true,
	}
}

func (s *Service) poolAddress(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return solana.PublicKey{}, false
	}
	address, err := parseAddressParam(r.PathValue("address"), "pool address")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return solana.PublicKey{}, false
	}
	return address, true
}

func (s *Service) handleListPools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.store.ListPools(r.Context(), indexer.PoolFilter{
		Mint:   strings.TrimSpace(r.URL.Query().Get("mint")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list pools failed", "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list pools")
		return
	}

	s.respondJSON(w, http.StatusOK, listResponse[indexer.PoolRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

func (s *Service) handlePool(w http.ResponseWriter, r *http.Request) {
	address, ok := s.poolAddress(w, r)
	if !ok {
		return
	}

	pool, err := s.pools.GetPoolState(r.Context(), address)
	if err == nil {
		s.respondJSON(w, http.StatusOK, newPoolResponse(pool))
		return
	}
	if errors.Is(err, whirlpool.ErrConnectivity) {
		if record, storeErr := s.store.GetPool(r.Context(), address.String()); storeErr == nil {
			s.respondJSON(w, http.StatusOK, storedPoolResponse(record))
			return
		}
	}
	s.respondDomainError(w, "get pool", err)
}

// handlePoolHealth computes health live and falls back to the last stored
// snapshot when the chain is unreachable.
func (s *Service) handlePoolHealth(w http.ResponseWriter, r *http.Request) {
	address, ok := s.poolAddress(w, r)
	if !ok {
		return
	}

	health, err := s.pools.PoolHealth(r.Context(), address)
	if err == nil {
		s.respondJSON(w, http.StatusOK, poolHealthResponse{PoolHealth: health})
		return
	}
	if !errors.Is(err, whirlpool.ErrConnectivity) {
		s.respondDomainError(w, "pool health", err)
		return
	}

	snapshot, snapErr := s.store.GetLatestHealthSnapshot(r.Context(), address.String())
	if snapErr != nil {
		s.respondDomainError(w, "pool health", err)
		return
	}
	s.respondJSON(w, http.StatusOK, poolHealthResponse{
		PoolHealth: whirlpool.PoolHealth{
			Pool:        address,
			Liquidity:   snapshot.Liquidity,
			Volume24h:   snapshot.Volume24h,
			FeeGrowth:   snapshot.FeeGrowth,
			HealthScore: snapshot.HealthScore,
		},
		Stale: true,
		TS:    snapshot.TS,
	})
}

func (s *Service) handlePoolHistory(w http.ResponseWriter, r *http.Request) {
	address, ok := s.poolAddress(w, r)
	if !ok {
		return
	}
	limit, err := parseOptionalInt(r, "limit", 100)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 0 || limit > 1000 {
		s.respondError(w, http.StatusBadRequest, "limit must be between 0 and 1000")
		return
	}

	points, err := s.pools.PriceHistory(r.Context(), address, limit)
	if err != nil {
		s.respondDomainError(w, "price history", err)
		return
	}
	if points == nil {
		points = []whirlpool.PriceDataPoint{}
	}
	s.respondJSON(w, http.StatusOK, historyResponse{Pool: address.String(), Points: points})
}

func (s *Service) handleMovingAverage(w http.ResponseWriter, r *http.Request) {
	address, ok := s.poolAddress(w, r)
	if !ok {
		return
	}
	period, err := parseOptionalInt(r, "period", 20)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	value, err := s.pools.MovingAverage(r.Context(), address, period)
	if err != nil {
		s.respondDomainError(w, "moving average", err)
		return
	}
	s.respondJSON(w, http.StatusOK, movingAverageResponse{Pool: address.String(), Period: period, Value: value})
}

func (s *Service) handleLiveCandles(w http.ResponseWriter, r *http.Request) {
	address, ok := s.poolAddress(w, r)
	if !ok {
		return
	}
	timeframe, err := parseOptionalInt(r, "timeframe", 5)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 100)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := s.pools.GetKlineData(r.Context(), address, timeframe, limit)
	if err != nil {
		s.respondDomainError(w, "kline data", err)
		return
	}
	if candles == nil {
		candles = []whirlpool.Kline{}
	}
	s.respondJSON(w, http.StatusOK, klineResponse{Pool: address.String(), TimeframeMinutes: timeframe, Candles: candles})
}

func (s *Service) handlePriceChanges(w http.ResponseWriter, r *http.Request) {
	address, ok := s.poolAddress(w, r)
	if !ok {
		return
	}
	limit, err := parseOptionalInt(r, "limit", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, normalizedLimit, normalizedOffset, err := s.store.ListPriceChanges(r.Context(), indexer.PriceChangeFilter{
		Pool:   address.String(),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list price changes failed", "pool", address, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list price changes")
		return
	}
	s.respondJSON(w, http.StatusOK, listResponse[indexer.PriceChangeRecord]{
		Items:  items,
		Limit:  normalizedLimit,
		Offset: normalizedOffset,
	})
}

// handleChartCandles serves candles from stored ticks, or from the
// backfilled history with source=backfill.
func (s *Service) handleChartCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	address, err := parseAddressParam(r.URL.Query().Get("pool"), "pool")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	timeframe, intervalSec, err := parseChartTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseOptionalInt(r, "limit", 120)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	var candles []indexer.CandleRecord
	switch source {
	case "", "ticks":
		source = "ticks"
		candles, err = s.store.GetPoolCandles(r.Context(), address.String(), intervalSec, limit)
	case "backfill":
		candles, err = s.store.ListBackfilledCandles(r.Context(), address.String(), int(intervalSec/60), limit)
	default:
		s.respondError(w, http.StatusBadRequest, "source must be one of ticks, backfill")
		return
	}
	if err != nil {
		s.logger.Error("get pool candles failed", "pool", address, "timeframe", timeframe, "err", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load candles")
		return
	}

	s.respondJSON(w, http.StatusOK, chartCandlesResponse{
		Pool:        address.String(),
		Source:      source,
		Timeframe:   timeframe,
		IntervalSec: intervalSec,
		Candles:     candles,
	})
}

func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	inputMint, err := parseAddressParam(r.URL.Query().Get("input_mint"), "input_mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	outputMint, err := parseAddressParam(r.URL.Query().Get("output_mint"), "output_mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseRequiredUint64(r, "amount")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	slippage, err := parseOptionalFloat(r, "slippage", defaultSlippagePercent)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	quote, pool, err := s.pools.GetQuote(r.Context(), inputMint, outputMint, amount, slippage)
	if err != nil {
		s.respondDomainError(w, "quote", err)
		return
	}
	s.respondJSON(w, http.StatusOK, quoteResponse{QuoteResult: quote, Pool: pool.Address.String()})
}

func (s *Service) handleTokenPrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}

	base, err := parseAddressParam(r.URL.Query().Get("base"), "base")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote, err := parseAddressParam(r.URL.Query().Get("quote"), "quote")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	price, err := s.pools.GetTokenPrice(r.Context(), base, quote)
	if err != nil {
		s.respondDomainError(w, "token price", err)
		return
	}
	s.respondJSON(w, http.StatusOK, tokenPriceResponse{Base: base.String(), Quote: quote.String(), Price: price})
}

func (s *Service) handleTokenPools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	mint, err := parseAddressParam(r.PathValue("mint"), "mint")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pools, err := s.pools.FindPoolsByToken(r.Context(), mint)
	if err != nil {
		s.respondDomainError(w, "find pools", err)
		return
	}
	items := make([]poolResponse, 0, len(pools))
	for _, pool := range pools {
		items = append(items, newPoolResponse(pool))
	}
	s.respondJSON(w, http.StatusOK, listResponse[poolResponse]{Items: items, Limit: len(items)})
}

func parseChartTimeframe(raw string) (string, int64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "1m", "1min", "1":
		return "1m", 60, nil
	case "5m", "5min", "5":
		return "5m", 5 * 60, nil
	case "15m", "15min", "15":
		return "15m", 15 * 60, nil
	case "1h", "60m", "60min":
		return "1h", 60 * 60, nil
	case "4h", "240m", "240min":
		return "4h", 4 * 60 * 60, nil
	case "1d", "24h":
		return "1d", 24 * 60 * 60, nil
	default:
		return "", 0, fmt.Errorf("timeframe must be one of 1m, 5m, 15m, 1h, 4h, 1d")
	}
}
