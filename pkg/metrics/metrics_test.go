package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNATSStreamMessages(t *testing.T) {
	t.Run("Should accumulate published record counts per stream", func(t *testing.T) {
		before := testutil.ToFloat64(NATSStreamMessages.WithLabelValues("TASKS"))

		NATSStreamMessages.WithLabelValues("TASKS").Inc()
		NATSStreamMessages.WithLabelValues("TASKS").Inc()

		assert.Equal(t, before+2, testutil.ToFloat64(NATSStreamMessages.WithLabelValues("TASKS")))
	})
}
