package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/vorpalengineering/x402-agent/types"
)

type roundTripperDoer struct {
	rt http.RoundTripper
}

func (d roundTripperDoer) Do(req *http.Request) (*http.Response, error) {
	return d.rt.RoundTrip(req)
}

// PaymentTransport runs the payment-required retry protocol behind a plain
// *http.Client. Responses the server actually sent are returned as
// responses; failures before a final response are returned as errors.
type PaymentTransport struct {
	client *Client
}

// NewPaymentTransport wraps base (http.DefaultTransport when nil)
func NewPaymentTransport(base http.RoundTripper, preparer Preparer, payer string, opts ...Option) *PaymentTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	opts = append(opts, WithHTTPClient(roundTripperDoer{rt: base}))
	return &PaymentTransport{client: NewClient(preparer, payer, opts...)}
}

func (t *PaymentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	result, err := t.client.Fetch(req.Context(), Request{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	if err != nil && !hasFinalResponse(result, err) {
		return nil, err
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", result.StatusCode, http.StatusText(result.StatusCode)),
		StatusCode:    result.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        result.Header,
		Body:          io.NopCloser(bytes.NewReader(result.Body)),
		ContentLength: int64(len(result.Body)),
		Request:       req,
	}, nil
}

func hasFinalResponse(result *Result, err error) bool {
	if result == nil || result.StatusCode == 0 {
		return false
	}
	switch types.CodeOf(err) {
	case types.CodeResourceError, types.CodeFundingRequired, types.CodeSecondPaymentRequired,
		types.CodeSettlementRejected, types.CodeTransportError:
		return true
	}
	return false
}
