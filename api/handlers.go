package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/labstack/echo/v4"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/tasks"
	"github.com/vultisig/dca-exchange/internal/types"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{
		Message: message,
	}
}

type IDResponse struct {
	ID common.Hash `json:"id"`
}

type AddTokenPairRequest struct {
	TokenA              string `json:"token_a" validate:"required,eth_addr"`
	TokenB              string `json:"token_b" validate:"required,eth_addr"`
	SegmentSize         string `json:"segment_size" validate:"required,uint256"`
	DecimalNumber       uint8  `json:"decimal_number" validate:"max=36"`
	PriceOracle         string `json:"price_oracle" validate:"required,eth_addr"`
	LendingPoolProvider string `json:"lending_pool_provider" validate:"required,eth_addr"`
	SwapRouter          string `json:"swap_router" validate:"required,eth_addr"`
	PoolFee             uint32 `json:"pool_fee"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type TokenAmountRequest struct {
	Token  string `json:"token" validate:"required,oneof=A B"`
	Amount string `json:"amount" validate:"required,uint256"`
}

type AddDCAConfigRequest struct {
	PairID        string `json:"pair_id" validate:"required,hash"`
	OnBehalfOf    string `json:"on_behalf_of" validate:"omitempty,eth_addr"`
	IsSwapAforB   bool   `json:"is_swap_a_for_b"`
	Min           string `json:"min" validate:"required,uint256"`
	Max           string `json:"max" validate:"required,uint256"`
	Amount        string `json:"amount" validate:"required,uint256"`
	ScalingFactor uint64 `json:"scaling_factor"`
	DelayBucket   string `json:"delay_bucket" validate:"required,delay_bucket"`
}

type ExecuteRequest struct {
	Cursor *types.Cursor `json:"cursor,omitempty"`
}

type SetMaxProcessRequest struct {
	Value uint64 `json:"value"`
}

type BalancesResponse struct {
	PairID common.Hash    `json:"pair_id"`
	User   common.Address `json:"user"`
	TokenA *uint256.Int   `json:"token_a"`
	TokenB *uint256.Int   `json:"token_b"`
}

type ReservesResponse struct {
	TokenA *types.Reserve `json:"token_a"`
	TokenB *types.Reserve `json:"token_b"`
}

type EnqueuedResponse struct {
	TaskID string `json:"task_id"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidArgument), errors.Is(err, types.ErrDCAConfig):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrDuplicatePair):
		return http.StatusConflict
	case errors.Is(err, types.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, NewErrorResponse(fmt.Sprint(he.Message)))
		return
	}
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		message = "internal server error"
	}
	_ = c.JSON(status, NewErrorResponse(message))
}

func (s *Server) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return types.InvalidArgument(fmt.Sprintf("fail to parse request: %v", err))
	}
	return c.Validate(req)
}

func pairIDParam(c echo.Context) (common.Hash, error) {
	id, ok := dcacommon.ParseHash(c.Param("pairId"))
	if !ok {
		return common.Hash{}, types.InvalidArgument("invalid pair id")
	}
	return id, nil
}

func configIDParam(c echo.Context) (common.Hash, error) {
	id, ok := dcacommon.ParseHash(c.Param("configId"))
	if !ok {
		return common.Hash{}, types.InvalidArgument("invalid config id")
	}
	return id, nil
}

func userParam(c echo.Context) (common.Address, error) {
	user, ok := dcacommon.ParseAddress(c.Param("user"))
	if !ok {
		return common.Address{}, types.InvalidArgument("invalid user address")
	}
	return user, nil
}

func parseToken(s string) types.Token {
	if s == "B" {
		return types.TokenB
	}
	return types.TokenA
}

// validated fields are decimal already
func mustAmount(s string) *uint256.Int {
	v, _ := uint256.FromDecimal(s)
	return v
}

func (s *Server) ListTokenPairs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.exchange.TokenPairs())
}

func (s *Server) AddTokenPair(c echo.Context) error {
	var req AddTokenPairRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	id, err := s.exchange.AddTokenPair(c.Request().Context(), callerFrom(c), types.TokenPairParams{
		TokenA:              common.HexToAddress(req.TokenA),
		TokenB:              common.HexToAddress(req.TokenB),
		SegmentSize:         mustAmount(req.SegmentSize),
		DecimalNumber:       req.DecimalNumber,
		PriceOracle:         common.HexToAddress(req.PriceOracle),
		LendingPoolProvider: common.HexToAddress(req.LendingPoolProvider),
		SwapRouter:          common.HexToAddress(req.SwapRouter),
		PoolFee:             req.PoolFee,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) GetTokenPair(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	pair, err := s.exchange.GetTokenPair(pairID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

func (s *Server) SetTokenPairEnabled(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	var req SetEnabledRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.exchange.SetTokenPairEnabled(c.Request().Context(), callerFrom(c), pairID, *req.Enabled); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) Deposit(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	var req TokenAmountRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.exchange.Deposit(c.Request().Context(), callerFrom(c), pairID, parseToken(req.Token), mustAmount(req.Amount)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) Withdraw(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	var req TokenAmountRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.exchange.Withdraw(c.Request().Context(), callerFrom(c), pairID, parseToken(req.Token), mustAmount(req.Amount)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) GetTokenBalances(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	user, err := userParam(c)
	if err != nil {
		return err
	}
	a, b, err := s.exchange.GetTokenBalances(pairID, user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, BalancesResponse{PairID: pairID, User: user, TokenA: a, TokenB: b})
}

func (s *Server) GetReserves(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	a, b, err := s.exchange.GetReserves(pairID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReservesResponse{TokenA: a, TokenB: b})
}

func (s *Server) GetSegmentEntries(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	price, err := uint256.FromDecimal(c.QueryParam("price"))
	if err != nil {
		return types.InvalidArgument("price must be a decimal integer")
	}
	bucket, err := types.ParseDelayBucket(c.QueryParam("bucket"))
	if err != nil {
		return err
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return types.InvalidArgument("offset must be a non-negative integer")
		}
	}
	entries, err := s.exchange.GetSegmentEntries(pairID, price, bucket, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) GetPairConfigs(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	if _, err := s.exchange.GetTokenPair(pairID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.projector.ConfigsByPair(pairID, c.QueryParam("sort")))
}

// ExecuteDCA runs one batch synchronously, or enqueues it with ?async=true.
func (s *Server) ExecuteDCA(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return types.InvalidArgument(fmt.Sprintf("fail to parse request: %v", err))
	}

	if c.QueryParam("async") == "true" {
		if s.client == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "task queue is not configured")
		}
		if _, err := s.exchange.GetTokenPair(pairID); err != nil {
			return err
		}
		task, err := tasks.NewExecuteDCATask(pairID, req.Cursor)
		if err != nil {
			return err
		}
		ti, err := s.client.EnqueueContext(c.Request().Context(), task, tasks.ExecuteDCAOptions()...)
		if err != nil {
			return fmt.Errorf("fail to enqueue task, err: %w", err)
		}
		return c.JSON(http.StatusAccepted, EnqueuedResponse{TaskID: ti.ID})
	}

	res, err := s.exchange.ExecuteDCA(c.Request().Context(), pairID, req.Cursor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) GetExecutions(c echo.Context) error {
	pairID, err := pairIDParam(c)
	if err != nil {
		return err
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return types.InvalidArgument("limit must be a positive integer")
		}
	}
	return c.JSON(http.StatusOK, s.projector.Executions(pairID, limit))
}

func (s *Server) AddDCAConfig(c echo.Context) error {
	var req AddDCAConfigRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	pairID, _ := dcacommon.ParseHash(req.PairID)
	bucket, _ := types.ParseDelayBucket(req.DelayBucket)
	var onBehalfOf common.Address
	if req.OnBehalfOf != "" {
		onBehalfOf = common.HexToAddress(req.OnBehalfOf)
	}
	id, err := s.exchange.AddDCAConfig(c.Request().Context(), callerFrom(c), types.DCAConfigParams{
		PairID:        pairID,
		OnBehalfOf:    onBehalfOf,
		IsSwapAforB:   req.IsSwapAforB,
		Min:           mustAmount(req.Min),
		Max:           mustAmount(req.Max),
		Amount:        mustAmount(req.Amount),
		ScalingFactor: req.ScalingFactor,
		DelayBucket:   bucket,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (s *Server) GetDCAConfig(c echo.Context) error {
	configID, err := configIDParam(c)
	if err != nil {
		return err
	}
	cfg, err := s.exchange.GetDCAConfig(configID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) DeleteDCAConfig(c echo.Context) error {
	configID, err := configIDParam(c)
	if err != nil {
		return err
	}
	if err := s.exchange.DeleteDCAConfig(c.Request().Context(), callerFrom(c), configID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) GetUserConfigs(c echo.Context) error {
	user, err := userParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.projector.ConfigsByUser(user, c.QueryParam("sort")))
}

func (s *Server) SetMaxDCAProcessSegmentPerCall(c echo.Context) error {
	var req SetMaxProcessRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.exchange.SetMaxDCAProcessSegmentPerCall(c.Request().Context(), callerFrom(c), req.Value); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) GetEvents(c echo.Context) error {
	var since uint64
	if raw := c.QueryParam("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return types.InvalidArgument("since must be a non-negative integer")
		}
		since = v
	}
	return c.JSON(http.StatusOK, s.exchange.Log().Since(since))
}
