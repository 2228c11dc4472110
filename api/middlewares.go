package api

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"

	dcacommon "github.com/vultisig/dca-exchange/common"
	"github.com/vultisig/dca-exchange/internal/sigutil"
	"github.com/vultisig/dca-exchange/storage"
)

const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerSignature = "X-Caller-Signature"
	HeaderCallerTimestamp = "X-Caller-Timestamp"
	HeaderIdempotencyKey  = "Idempotency-Key"

	callerKey = "caller"
)

func (s *Server) statsdMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start).Milliseconds()

		// Send metrics to statsd
		_ = s.sdClient.Incr("http.requests", []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Timing("http.response_time", time.Duration(duration)*time.Millisecond, []string{"path:" + c.Path()}, 1)
		_ = s.sdClient.Incr("http.status."+fmt.Sprint(c.Response().Status), []string{"path:" + c.Path(), "method:" + c.Request().Method}, 1)

		return err
	}
}

func callerFrom(c echo.Context) common.Address {
	caller, _ := c.Get(callerKey).(common.Address)
	return caller
}

// callerAuth resolves the caller from X-Caller-Address and checks that
// X-Caller-Signature is its EIP-191 signature over method, path, timestamp,
// Idempotency-Key and body. Signed calls must carry an Idempotency-Key and a
// timestamp inside the signature window.
func (s *Server) callerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		caller, ok := dcacommon.ParseAddress(c.Request().Header.Get(HeaderCallerAddress))
		if !ok {
			return c.JSON(http.StatusUnauthorized, NewErrorResponse("missing or invalid caller address"))
		}
		if !s.cfg.AuthDisabled {
			signedAt, err := strconv.ParseInt(c.Request().Header.Get(HeaderCallerTimestamp), 10, 64)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, NewErrorResponse("missing or invalid caller timestamp"))
			}
			if skew := time.Since(time.Unix(signedAt, 0)); skew > s.cfg.SignatureWindow || skew < -s.cfg.SignatureWindow {
				return c.JSON(http.StatusUnauthorized, NewErrorResponse("caller timestamp is outside the signature window"))
			}
			idempotencyKey := c.Request().Header.Get(HeaderIdempotencyKey)
			if idempotencyKey == "" {
				return c.JSON(http.StatusBadRequest, NewErrorResponse("signed requests require an Idempotency-Key"))
			}

			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return fmt.Errorf("fail to read body, err: %w", err)
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			sig, err := hex.DecodeString(strings.TrimPrefix(c.Request().Header.Get(HeaderCallerSignature), "0x"))
			if err != nil || len(sig) == 0 {
				return c.JSON(http.StatusUnauthorized, NewErrorResponse("missing or invalid caller signature"))
			}
			msg := sigutil.CallerMessage(c.Request().Method, c.Request().URL.Path, signedAt, idempotencyKey, body)
			verified, err := sigutil.VerifySignature(caller, msg, sig)
			if err != nil || !verified {
				s.logger.WithError(err).WithField("caller", caller.Hex()).Warn("invalid caller signature")
				return c.JSON(http.StatusUnauthorized, NewErrorResponse("invalid caller signature"))
			}
		}
		c.Set(callerKey, caller)
		return next(c)
	}
}

const idempotencyPending = "pending"

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// idempotencyMiddleware replays the stored response of a mutating call that
// already ran with the same Idempotency-Key and caller. Keys of failed calls
// are released so they can be retried.
func (s *Server) idempotencyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get(HeaderIdempotencyKey)
		if key == "" || s.idempotency == nil {
			return next(c)
		}
		ctx := c.Request().Context()
		redisKey := "idempotency:" + callerFrom(c).Hex() + ":" + c.Request().Method + ":" + c.Path() + ":" + key

		acquired, err := s.idempotency.SetNX(ctx, redisKey, idempotencyPending, s.cfg.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("fail to reserve idempotency key, err: %w", err)
		}
		if !acquired {
			raw, err := s.idempotency.Get(ctx, redisKey)
			if errors.Is(err, storage.ErrKeyNotFound) || raw == idempotencyPending {
				return c.JSON(http.StatusConflict, NewErrorResponse("request with this idempotency key is in progress"))
			}
			if err != nil {
				return fmt.Errorf("fail to read idempotency key, err: %w", err)
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return fmt.Errorf("fail to decode stored response, err: %w", err)
			}
			c.Response().Header().Set("Idempotent-Replayed", "true")
			if len(stored.Body) == 0 {
				return c.NoContent(stored.Status)
			}
			return c.Blob(stored.Status, stored.ContentType, stored.Body)
		}

		capture := &captureWriter{ResponseWriter: c.Response().Writer}
		c.Response().Writer = capture
		err = next(c)
		if err != nil {
			// run the error handler now so the stored status is the real one
			c.Error(err)
		}
		status := c.Response().Status
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			if derr := s.idempotency.Delete(ctx, redisKey); derr != nil {
				s.logger.WithError(derr).Error("fail to release idempotency key")
			}
			return nil
		}
		raw, merr := json.Marshal(storedResponse{
			Status:      status,
			ContentType: c.Response().Header().Get(echo.HeaderContentType),
			Body:        capture.body.Bytes(),
		})
		if merr == nil {
			merr = s.idempotency.Set(ctx, redisKey, string(raw), s.cfg.IdempotencyTTL)
		}
		if merr != nil {
			s.logger.WithError(merr).Error("fail to store idempotent response")
		}
		return nil
	}
}

type captureWriter struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *captureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
