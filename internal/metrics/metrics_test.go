package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample sums every series of a gathered family whose labels include want.
func sample(t *testing.T, m *Metrics, name string, want map[string]string) float64 {
	t.Helper()

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
				}
			}
			if !match {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.ObserveRun("success", 2*time.Minute)
	m.IncOffer("ok")
	m.IncOffer("ok")
	m.IncOffer("failed")
	m.IncLocaleMismatch("en", "degraded")
	m.ObservePageLoad("ru", time.Second)
	m.SetQueueDepth(3)

	assert.Equal(t, 1.0, sample(t, m, "offer_scraper_runs_total", map[string]string{"outcome": "success"}))
	assert.Equal(t, 1.0, sample(t, m, "offer_scraper_run_duration_seconds", nil))
	assert.Equal(t, 2.0, sample(t, m, "offer_scraper_offers_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, sample(t, m, "offer_scraper_offers_total", map[string]string{"result": "failed"}))
	assert.Equal(t, 1.0, sample(t, m, "offer_scraper_locale_mismatches_total", map[string]string{"locale": "en", "resolution": "degraded"}))
	assert.Equal(t, 1.0, sample(t, m, "offer_scraper_page_load_seconds", map[string]string{"locale": "ru"}))
	assert.Equal(t, 3.0, sample(t, m, "offer_scraper_queue_depth", nil))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRun("failed", time.Second)
		m.ObservePageLoad("en", time.Second)
		m.IncOffer("ok")
		m.IncLocaleMismatch("ru", "switched")
		m.SetQueueDepth(1)
	})
}
