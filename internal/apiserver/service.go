package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/orca/backend/internal/config"
	"github.com/coldbell/orca/backend/internal/indexer"
	"github.com/coldbell/orca/backend/internal/ledger"
	"github.com/coldbell/orca/backend/internal/logging"
	"github.com/coldbell/orca/backend/internal/whirlpool"
)

// poolStore is the read side of the indexer database.
type poolStore interface {
	GetPool(ctx context.Context, address string) (indexer.PoolRecord, error)
	ListPools(ctx context.Context, filter indexer.PoolFilter) ([]indexer.PoolRecord, int, int, error)
	GetLatestPoolPrice(ctx context.Context, pool string) (indexer.PoolPriceRecord, error)
	GetPoolCandles(ctx context.Context, pool string, intervalSec int64, limit int) ([]indexer.CandleRecord, error)
	ListBackfilledCandles(ctx context.Context, pool string, timeframeMinutes int, limit int) ([]indexer.CandleRecord, error)
	ListPriceChanges(ctx context.Context, filter indexer.PriceChangeFilter) ([]indexer.PriceChangeRecord, int, int, error)
	GetLatestHealthSnapshot(ctx context.Context, pool string) (indexer.HealthSnapshotRecord, error)
	Close() error
}

// poolService answers live questions against the chain.
type poolService interface {
	GetPoolState(ctx context.Context, pool solana.PublicKey) (*whirlpool.PoolState, error)
	PoolHealth(ctx context.Context, pool solana.PublicKey) (whirlpool.PoolHealth, error)
	PriceHistory(ctx context.Context, pool solana.PublicKey, limit int) ([]whirlpool.PriceDataPoint, error)
	MovingAverage(ctx context.Context, pool solana.PublicKey, period int) (float64, error)
	GetKlineData(ctx context.Context, pool solana.PublicKey, timeframeMinutes, limit int) ([]whirlpool.Kline, error)
	GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, inputAmount uint64, slippagePercent float64) (whirlpool.QuoteResult, *whirlpool.PoolState, error)
	GetTokenPrice(ctx context.Context, baseMint, quoteMint solana.PublicKey) (float64, error)
	FindPoolsByToken(ctx context.Context, mint solana.PublicKey) ([]*whirlpool.PoolState, error)
}

type Service struct {
	cfg     config.APIServerConfig
	logger  *slog.Logger
	store   poolStore
	pools   poolService
	origins originPolicy
}

func New(cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	store, err := indexer.NewStore(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	rpcClient := ledger.New(cfg.RPC, logging.Component(logger, "ledger"))
	pools, err := whirlpool.New(rpcClient, cfg.Whirlpool, logging.Component(logger, "whirlpool"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init whirlpool client: %w", err)
	}

	return newService(cfg, store, pools, logger), nil
}

func newService(cfg config.APIServerConfig, store poolStore, pools poolService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}

	return &Service{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		pools:   pools,
		origins: newOriginPolicy(cfg.AllowedOrigins),
	}
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/pools", s.handleListPools)
	mux.HandleFunc("/v1/pools/{address}", s.handlePool)
	mux.HandleFunc("/v1/pools/{address}/health", s.handlePoolHealth)
	mux.HandleFunc("/v1/pools/{address}/history", s.handlePoolHistory)
	mux.HandleFunc("/v1/pools/{address}/ma", s.handleMovingAverage)
	mux.HandleFunc("/v1/pools/{address}/candles", s.handleLiveCandles)
	mux.HandleFunc("/v1/pools/{address}/changes", s.handlePriceChanges)
	mux.HandleFunc("/v1/chart/candles", s.handleChartCandles)
	mux.HandleFunc("/v1/quote", s.handleQuote)
	mux.HandleFunc("/v1/price", s.handleTokenPrice)
	mux.HandleFunc("/v1/tokens/{mint}/pools", s.handleTokenPools)
	mux.HandleFunc("/ws", s.handleWebsocket)
	return s.withCORS(mux)
}

func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	server := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	s.logger.Info("api-server started",
		"listen_addr", s.cfg.ListenAddr,
		"db_driver", "postgres",
		"rpc", s.cfg.RPC.RPCURL,
		"allowed_origins", strings.Join(s.cfg.AllowedOrigins, ","),
	)

	select {
	case <-ctx.Done():
		s.logger.Info("api-server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api-server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{OK: true})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, whirlpool.ErrValidation), errors.Is(err, whirlpool.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, whirlpool.ErrNotFound), errors.Is(err, indexer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, whirlpool.ErrComputation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, whirlpool.ErrConnectivity):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) respondDomainError(w http.ResponseWriter, op string, err error) {
	code := statusForError(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	}
	s.respondError(w, code, err.Error())
}

func (s *Service) respondMethodNotAllowed(w http.ResponseWriter) {
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Service) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, errorResponse{Error: message})
}

func (s *Service) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to write JSON response", "err", err)
	}
}
