package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shaiso/Citydata/internal/errs"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxBodySize = 64 << 20
	maxErrorBody       = 200
)

// ErrBodyTooLarge — ответ больше HTTPConfig.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPConfig — конфигурация HTTP источника.
type HTTPConfig struct {
	// Name — имя источника.
	Name string

	// URL — адрес API (обязательно).
	URL string

	// Headers — HTTP-заголовки запроса (например, x-access-token).
	Headers map[string]string

	// Query — query-параметры запроса.
	Query map[string]string

	// ResultsPath — путь до массива записей в ответе через точку,
	// например "features" или "results.items". Пусто — ответ сам является массивом.
	ResultsPath string

	// Timeout — таймаут запроса. Default: 30s.
	Timeout time.Duration

	// MaxBodySize — предел размера ответа в байтах. Default: 64 MiB.
	MaxBodySize int64

	// Client — HTTP клиент (опционально).
	Client *http.Client
}

// HTTPJSONSource загружает JSON массив записей по HTTP GET.
type HTTPJSONSource[T any] struct {
	cfg HTTPConfig
}

// NewHTTPJSONSource создаёт HTTP источник.
func NewHTTPJSONSource[T any](cfg HTTPConfig) *HTTPJSONSource[T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Name == "" {
		cfg.Name = "http-source"
	}
	return &HTTPJSONSource[T]{cfg: cfg}
}

// Name возвращает имя источника.
func (s *HTTPJSONSource[T]) Name() string {
	return s.cfg.Name
}

// WithQuery возвращает копию источника с дополнительными query-параметрами.
// Используется для параметризованных загрузок (например, date из заголовка сообщения).
func (s *HTTPJSONSource[T]) WithQuery(params map[string]string) *HTTPJSONSource[T] {
	cfg := s.cfg
	cfg.Query = make(map[string]string, len(s.cfg.Query)+len(params))
	for k, v := range s.cfg.Query {
		cfg.Query[k] = v
	}
	for k, v := range params {
		cfg.Query[k] = v
	}
	return &HTTPJSONSource[T]{cfg: cfg}
}

// FetchAll выполняет запрос и декодирует записи.
func (s *HTTPJSONSource[T]) FetchAll(ctx context.Context) ([]T, error) {
	reqURL, err := s.buildURL()
	if err != nil {
		return nil, errs.Fatal(s.cfg.Name, errs.CodeFetch, "invalid source url", err)
	}

	// Таймаут
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.Fatal(s.cfg.Name, errs.CodeFetch, "create request", err)
	}

	// Устанавливаем заголовки
	req.Header.Set("Accept", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, errs.Transient(s.cfg.Name, errs.CodeFetch, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodySize+1))
	if err != nil {
		return nil, errs.Transient(s.cfg.Name, errs.CodeFetch, "read response", err)
	}

	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), maxErrorBody))
		if isRetryableStatus(resp.StatusCode) {
			return nil, errs.Transient(s.cfg.Name, errs.CodeFetch, msg, nil)
		}
		// Остальные 4xx — запрос отвергнут источником, повтор не поможет
		return nil, errs.New(errs.KindValidation, s.cfg.Name, errs.CodeFetch, msg, false, nil)
	}

	if int64(len(body)) > s.cfg.MaxBodySize {
		return nil, errs.New(errs.KindValidation, s.cfg.Name, errs.CodeFetch,
			fmt.Sprintf("response exceeds %d bytes", s.cfg.MaxBodySize), false, ErrBodyTooLarge)
	}

	records, err := decodeRecords[T](body, s.cfg.ResultsPath)
	if err != nil {
		return nil, errs.New(errs.KindValidation, s.cfg.Name, errs.CodeFetch, "decode response", false, err)
	}
	return records, nil
}

func (s *HTTPJSONSource[T]) buildURL() (string, error) {
	if s.cfg.URL == "" {
		return "", fmt.Errorf("url is required")
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", s.cfg.URL)
	}
	if len(s.cfg.Query) > 0 {
		q := u.Query()
		for k, v := range s.cfg.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// decodeRecords достаёт массив по пути и декодирует его в []T.
func decodeRecords[T any](body []byte, path string) ([]T, error) {
	raw := json.RawMessage(body)

	if path != "" {
		for _, key := range strings.Split(path, ".") {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("descend into %q: %w", key, err)
			}
			next, ok := obj[key]
			if !ok {
				return nil, fmt.Errorf("key %q not found", key)
			}
			raw = next
		}
	}

	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("unmarshal records: %w", err)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// isRetryableStatus — 5xx и rate limiting считаются временными.
func isRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// truncate обрезает строку до n символов.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
