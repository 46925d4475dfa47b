// Package payout выполняет внешние переводы средств через систему расчётов.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/lendpool/internal/model"
)

// ErrRejected возвращается, если система расчётов отклонила перевод.
var ErrRejected = errors.New("payout rejected")

// Client инкапсулирует HTTP-взаимодействие с системой расчётов.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент системы расчётов по указанному адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}

	return &Client{
		baseURL:    base,
		httpClient: rc,
	}
}

// Pay отправляет перевод. ID перевода передаётся как ключ идемпотентности,
// поэтому повторная отправка того же перевода безопасна.
func (c *Client) Pay(ctx context.Context, t model.Transfer) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusConflict:
		// перевод с этим ключом уже принят
		return nil
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrRejected, resp.StatusCode)
	}
}

// LogPayer только журналирует переводы. Используется, когда система расчётов не настроена.
type LogPayer struct {
	logger *zap.Logger
}

// NewLogPayer создаёт LogPayer.
func NewLogPayer(logger *zap.Logger) *LogPayer {
	return &LogPayer{logger: logger}
}

// Pay записывает перевод в журнал.
func (p *LogPayer) Pay(_ context.Context, t model.Transfer) error {
	p.logger.Info("payout scheduled",
		zap.String("id", t.ID),
		zap.String("to", t.To),
		zap.Stringer("amount", t.Amount),
		zap.String("reason", t.Reason),
	)
	return nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
