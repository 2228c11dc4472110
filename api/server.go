package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vultisig/dca-exchange/events"
	"github.com/vultisig/dca-exchange/internal/tasks"
	"github.com/vultisig/dca-exchange/internal/types"
	"github.com/vultisig/dca-exchange/storage"
)

// Exchange is the durable exchange facade the handlers drive.
type Exchange interface {
	AddTokenPair(ctx context.Context, caller common.Address, params types.TokenPairParams) (common.Hash, error)
	SetTokenPairEnabled(ctx context.Context, caller common.Address, pairID common.Hash, enabled bool) error
	Deposit(ctx context.Context, caller common.Address, pairID common.Hash, t types.Token, amount *uint256.Int) error
	Withdraw(ctx context.Context, caller common.Address, pairID common.Hash, t types.Token, amount *uint256.Int) error
	AddDCAConfig(ctx context.Context, caller common.Address, params types.DCAConfigParams) (common.Hash, error)
	DeleteDCAConfig(ctx context.Context, caller common.Address, configID common.Hash) error
	ExecuteDCA(ctx context.Context, pairID common.Hash, cursor *types.Cursor) (*types.ExecutionResult, error)
	SetMaxDCAProcessSegmentPerCall(ctx context.Context, caller common.Address, value uint64) error

	GetTokenPair(pairID common.Hash) (*types.TokenPair, error)
	TokenPairs() []*types.TokenPair
	GetTokenBalances(pairID common.Hash, user common.Address) (*uint256.Int, *uint256.Int, error)
	GetReserves(pairID common.Hash) (*types.Reserve, *types.Reserve, error)
	GetDCAConfig(configID common.Hash) (*types.DCAConfig, error)
	GetSegmentEntries(pairID common.Hash, price *uint256.Int, bucket types.DelayBucket, offset int) ([]types.SegmentEntry, error)
	Log() *events.Log
}

type Server struct {
	cfg         ServerConfig
	exchange    Exchange
	projector   *events.Projector
	idempotency storage.KeyValueStore
	client      tasks.Enqueuer
	sdClient    statsd.ClientInterface
	upgrader    websocket.Upgrader
	logger      *logrus.Logger
	echo        *echo.Echo
}

// NewServer returns a new server. idempotency and client may be nil, which
// disables Idempotency-Key handling and asynchronous execution.
func NewServer(
	cfg ServerConfig,
	exchange Exchange,
	projector *events.Projector,
	idempotency storage.KeyValueStore,
	client tasks.Enqueuer,
	sdClient statsd.ClientInterface,
	logger *logrus.Logger,
) *Server {
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = 5 * time.Minute
	}
	s := &Server{
		cfg:         cfg,
		exchange:    exchange,
		projector:   projector,
		idempotency: idempotency,
		client:      client,
		sdClient:    sdClient,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:      logger,
	}
	s.echo = s.newRouter()
	return s
}

func (s *Server) newRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	bodyLimit := s.cfg.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "2M"
	}
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(s.statsdMiddleware)
	e.Use(middleware.CORS())
	if s.cfg.RateLimit > 0 {
		limiterStore := middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{Rate: rate.Limit(s.cfg.RateLimit), Burst: s.cfg.RateBurst, ExpiresIn: 5 * time.Minute},
		)
		e.Use(middleware.RateLimiter(limiterStore))
	}

	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = s.httpErrorHandler

	e.GET("/ping", s.Ping)

	signed := []echo.MiddlewareFunc{s.callerAuth, s.idempotencyMiddleware}

	pairs := e.Group("/pairs")
	pairs.GET("", s.ListTokenPairs)
	pairs.POST("", s.AddTokenPair, signed...)
	pairs.GET("/:pairId", s.GetTokenPair)
	pairs.PUT("/:pairId/enabled", s.SetTokenPairEnabled, signed...)
	pairs.POST("/:pairId/deposit", s.Deposit, signed...)
	pairs.POST("/:pairId/withdraw", s.Withdraw, signed...)
	pairs.GET("/:pairId/balances/:user", s.GetTokenBalances)
	pairs.GET("/:pairId/reserves", s.GetReserves)
	pairs.GET("/:pairId/segments", s.GetSegmentEntries)
	pairs.GET("/:pairId/configs", s.GetPairConfigs)
	pairs.POST("/:pairId/execute", s.ExecuteDCA)
	pairs.GET("/:pairId/executions", s.GetExecutions)

	configs := e.Group("/configs")
	configs.POST("", s.AddDCAConfig, signed...)
	configs.GET("/:configId", s.GetDCAConfig)
	configs.DELETE("/:configId", s.DeleteDCAConfig, signed...)

	e.GET("/users/:user/configs", s.GetUserConfigs)
	e.PUT("/admin/max-process-per-call", s.SetMaxDCAProcessSegmentPerCall, signed...)

	e.GET("/events", s.GetEvents)
	e.GET("/events/ws", s.StreamEvents)
	return e
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) StartServer() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.FormatInt(s.cfg.Port, 10))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fail to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "DCA exchange server is running")
}
