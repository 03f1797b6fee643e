package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/stake-plus/nexvote/src/config"
)

func TestVerifyRefusesMemoryStore(t *testing.T) {
	cfg := config.Defaults()
	s, err := openExisting(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "persistent DATABASE_DSN")
	assert.Nil(t, s)
}
