package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/t2o2/betfair-go/internal/ratelimit"
)

const jsonRPCVersion = "2.0"

// Exception codes the exchange reports in JSON-RPC errors.
const (
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeServiceBusy     = "SERVICE_BUSY"
	CodeTimeout         = "TIMEOUT_ERROR"
	CodeInvalidSession  = "INVALID_SESSION_INFORMATION"
	CodeNoSession       = "NO_SESSION"
	CodeInvalidAppKey   = "INVALID_APP_KEY"
	CodeNoAppKey        = "NO_APP_KEY"
	CodeInvalidInput    = "INVALID_INPUT_DATA"
	CodeTooMuchData     = "TOO_MUCH_DATA"
)

// APIError represents an error from the exchange API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("betfair api error %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("betfair api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	switch e.Code {
	case CodeTooManyRequests, CodeServiceBusy, CodeTimeout:
		return true
	case CodeInvalidSession, CodeNoSession, CodeInvalidAppKey, CodeNoAppKey, CodeInvalidInput:
		return false
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsAuthError reports whether the session or app key was rejected.
func (e *APIError) IsAuthError() bool {
	switch e.Code {
	case CodeInvalidSession, CodeNoSession, CodeInvalidAppKey, CodeNoAppKey:
		return true
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int64           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		APINGException        *exceptionDetail `json:"APINGException"`
		AccountAPINGException *exceptionDetail `json:"AccountAPINGException"`
	} `json:"data"`
}

type exceptionDetail struct {
	ErrorCode    string `json:"errorCode"`
	ErrorDetails string `json:"errorDetails"`
	RequestUUID  string `json:"requestUUID"`
}

// exceptionCode extracts the exchange error code, falling back to the
// JSON-RPC message.
func (e *rpcError) exceptionCode() (code, detail string) {
	for _, ex := range []*exceptionDetail{e.Data.APINGException, e.Data.AccountAPINGException} {
		if ex != nil && ex.ErrorCode != "" {
			return ex.ErrorCode, ex.ErrorDetails
		}
	}
	return e.Message, ""
}

// call runs one JSON-RPC method through the rate limiter and retry policy.
func (c *Client) call(ctx context.Context, category ratelimit.Category, endpoint, method string, params, result any) error {
	return c.policy.Execute(ctx, category, func(ctx context.Context) error {
		return c.doRPC(ctx, endpoint, method, params, result)
	})
}

// doRPC performs a single JSON-RPC request.
func (c *Client) doRPC(ctx context.Context, endpoint, method string, params, result any) error {
	appKey, token, err := c.creds.Credentials()
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Application", appKey)
	req.Header.Set("X-Authentication", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpc rpcResponse
	decodeErr := json.Unmarshal(body, &rpc)

	if rpc.Error != nil {
		code, detail := rpc.Error.exceptionCode()
		msg := rpc.Error.Message
		if detail != "" {
			msg = detail
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
			Body:       body,
		}
	}
	if resp.StatusCode >= 400 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}
	if decodeErr != nil {
		return fmt.Errorf("unmarshal response: %w", decodeErr)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpc.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}

	c.logger.Debug("rpc call", "method", method, "id", id, "bytes", len(body))
	return nil
}
