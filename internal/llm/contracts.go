package llm

import "context"

// Backend is one text-generation call: prompt in, generated text out.
// Implementations make exactly one request and must not retry.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Extractor turns an email body into the backend's raw structured-text answer.
// The answer is untrusted and must go through the normalizer before use.
type Extractor interface {
	Invoke(ctx context.Context, body string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (string, error)

func (f BackendFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
