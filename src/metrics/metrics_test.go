package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Vote("cast")
	c.Vote("cast")
	c.Anchor("register-proposal", "skipped")
	c.SoftFailure("ai_embed")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.votes.WithLabelValues("cast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.anchors.WithLabelValues("register-proposal", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.softFailures.WithLabelValues("ai_embed")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Vote("cast")
		c.ProposalCreated()
		c.Finalization("passed")
	})
}
