package ai

import "context"

type disabledClient struct{}

// Disabled returns a client that is never available.
func Disabled() Client { return disabledClient{} }

func (disabledClient) Summarize(context.Context, string) (string, error) { return "", ErrDisabled }

func (disabledClient) Translate(context.Context, string, string, string) (string, error) {
	return "", ErrDisabled
}

func (disabledClient) Embed(context.Context, string) ([]float64, error) { return nil, ErrDisabled }

func (disabledClient) Health(context.Context) bool { return false }
