package classify

import "testing"

func TestClassify_NonRetryableCode(t *testing.T) {
	c := New(true)
	info := c.Classify(Meta{Code: "file-not-found"})
	if info.Retryable {
		t.Errorf("expected file-not-found to be non-retryable")
	}
	if info.Category != CategoryNonRetryable {
		t.Errorf("expected category non-retryable, got %s", info.Category)
	}
}

func TestClassify_RetryableCodeDelays(t *testing.T) {
	c := New(true)
	cases := map[string]int{
		"timed-out":        5000,
		"connection-reset": 3000,
		"resource-busy":    2000,
		"try-again":        5000,
	}
	for code, wantDelay := range cases {
		info := c.Classify(Meta{Code: code})
		if !info.Retryable {
			t.Errorf("expected %s to be retryable", code)
		}
		if info.SuggestedDelayMs != wantDelay {
			t.Errorf("%s: expected delay %d, got %d", code, wantDelay, info.SuggestedDelayMs)
		}
	}
}

func TestClassify_HTTPStatus(t *testing.T) {
	c := New(true)

	if info := c.Classify(Meta{HTTPStatus: 429}); !info.Retryable || info.SuggestedDelayMs != 60000 {
		t.Errorf("expected 429 retryable with 60s delay, got %+v", info)
	}
	if info := c.Classify(Meta{HTTPStatus: 503}); !info.Retryable || info.SuggestedDelayMs != 10000 {
		t.Errorf("expected 503 retryable with 10s delay, got %+v", info)
	}
	if info := c.Classify(Meta{HTTPStatus: 404}); info.Retryable {
		t.Errorf("expected 404 non-retryable, got %+v", info)
	}
}

func TestClassify_MessagePattern(t *testing.T) {
	c := New(true)
	info := c.Classify(Meta{Message: "upstream is temporarily unavailable"})
	if !info.Retryable {
		t.Errorf("expected message-pattern match to be retryable")
	}
}

func TestClassify_FallbackDefault(t *testing.T) {
	retryableDefault := New(true)
	info := retryableDefault.Classify(Meta{Message: "something entirely unrecognized"})
	if !info.Retryable {
		t.Errorf("expected retryable-by-default fallback")
	}

	nonRetryableDefault := New(false)
	info = nonRetryableDefault.Classify(Meta{Message: "something entirely unrecognized"})
	if info.Retryable {
		t.Errorf("expected non-retryable-by-default fallback")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New(true)
	m := Meta{Code: "timed-out", HTTPStatus: 0, Message: ""}
	a := c.Classify(m)
	b := c.Classify(m)
	if a != b {
		t.Errorf("classifier must be deterministic: got %+v and %+v", a, b)
	}
}
