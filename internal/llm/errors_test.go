package llm

import (
	"errors"
	"testing"
)

func TestContextOverflowClassification(t *testing.T) {
	overflow := []string{
		"context length exceeded",
		"This model's maximum context length is 200000 tokens, however you requested 210000",
		"prompt is too long: 205000 tokens > 200000 maximum",
		"request_too_large: the request exceeds the maximum size",
		"HTTP 413 Request Too Large: request size exceeds maximum context window",
	}
	for _, msg := range overflow {
		if !IsLikelyContextOverflowText(msg) {
			t.Fatalf("not classified as overflow: %q", msg)
		}
	}

	notOverflow := []string{
		"",
		"   ",
		"context window too small; minimum is 1024 tokens",
		"request reached organization TPD rate limit",
		"invalid_request_error: unknown parameter",
	}
	for _, msg := range notOverflow {
		if IsLikelyContextOverflowText(msg) {
			t.Fatalf("misclassified as overflow: %q", msg)
		}
	}
}

func TestRateLimitClassification(t *testing.T) {
	if !IsLikelyRateLimitError(errors.New("429 Too Many Requests")) {
		t.Fatalf("429 not classified as rate limit")
	}
	if !IsLikelyRateLimitText("You have exceeded your quota for requests per minute") {
		t.Fatalf("quota message not classified as rate limit")
	}
	if IsLikelyRateLimitError(nil) {
		t.Fatalf("nil error classified as rate limit")
	}
	if IsLikelyRateLimitText("model produced malformed output") {
		t.Fatalf("unrelated message classified as rate limit")
	}
}

func TestTransportClassification(t *testing.T) {
	transport := []string{
		"dial tcp: connection refused",
		"Post \"https://api\": context deadline exceeded (Client.Timeout)",
		"502 Bad Gateway",
		"unexpected EOF",
	}
	for _, msg := range transport {
		if !isLikelyTransportText(msg) {
			t.Fatalf("not classified as transport failure: %q", msg)
		}
	}
	if isLikelyTransportText("tool returned an empty result") {
		t.Fatalf("unrelated message classified as transport failure")
	}
}
