package tradestation

import (
	"net/http"
	"time"
)

// requestTimeout bounds one barcharts call; a full 57600-bar page is a few MB.
const requestTimeout = 60 * time.Second

// baseTransportConfig returns the shared HTTP transport configuration used by TradeStation clients.
func baseTransportConfig() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: requestTimeout,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
	}
}

// NewHTTPClient creates an HTTP client configured for TradeStation requests.
// The token provider and the bar fetcher share it.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: baseTransportConfig(),
		Timeout:   requestTimeout,
	}
}
