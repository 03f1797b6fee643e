package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stake-plus/nexvote/src/config"
)

func TestNewSelectsBackend(t *testing.T) {
	p, err := New(config.Events{Backend: "none"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Noop(), p)

	// redis without a client degrades to noop
	p, err = New(config.Events{Backend: "redis", Stream: "nexvote.events"}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), Event{Type: ProposalCreated}))

	_, err = New(config.Events{Backend: "nats"}, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(config.Events{Backend: "kafka"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), Event{Type: ProposalFinalized, ProposalID: "p1"}))
	assert.Len(t, r.Events(), 1)

	r.Err = errors.New("down")
	assert.Error(t, r.Publish(context.Background(), Event{Type: ProposalFinalized}))
	assert.Len(t, r.Events(), 1)
}
