package llmclient

import (
	"net"
	"net/http"
	"time"
)

const defaultConnectTimeout = 10 * time.Second

// newHTTPClient builds the transport shared by every client. The connect
// timeout bounds dial and TLS; the response timeout bounds waiting for
// headers. The whole-call bound is a context deadline set per request.
func newHTTPClient(t Timeouts) *http.Client {
	connect := t.Connect
	if connect <= 0 {
		connect = defaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: t.Response,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: tr}
}
