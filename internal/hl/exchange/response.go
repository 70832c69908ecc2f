package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
)

type envelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type typedResponse struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type orderData struct {
	Statuses []OrderStatus `json:"statuses"`
}

// decodeResponse unwraps {"status":"ok","response":{"type":..,"data":..}}
// and returns the data payload. An "err" status becomes *APIError.
func decodeResponse(body []byte) (typedResponse, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return typedResponse{}, fmt.Errorf("decode exchange response: %w", err)
	}
	if env.Status != "ok" {
		var msg string
		if err := json.Unmarshal(env.Response, &msg); err != nil || msg == "" {
			msg = string(env.Response)
		}
		if msg == "" {
			msg = "status " + env.Status
		}
		return typedResponse{}, &APIError{Message: msg}
	}
	var resp typedResponse
	if len(env.Response) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return typedResponse{}, fmt.Errorf("decode exchange response body: %w", err)
	}
	return resp, nil
}

func orderStatusesFromResponse(resp typedResponse) ([]OrderStatus, error) {
	if len(resp.Data) == 0 {
		return nil, errors.New("order response missing data")
	}
	var data orderData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("decode order statuses: %w", err)
	}
	if len(data.Statuses) == 0 {
		return nil, errors.New("order response has no statuses")
	}
	return data.Statuses, nil
}

func subAccountFromResponse(resp typedResponse) (string, error) {
	var addr string
	if err := json.Unmarshal(resp.Data, &addr); err != nil {
		return "", fmt.Errorf("decode subaccount address: %w", err)
	}
	if addr == "" {
		return "", errors.New("create subaccount response missing address")
	}
	return addr, nil
}
