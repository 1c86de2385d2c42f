package observability

// RefreshCompleted counts a catalog refresh with its result.
func (c *TrackingCollector) RefreshCompleted(result string) {
	if c == nil || c.Refreshes == nil {
		return
	}
	c.Refreshes.WithLabelValues(result).Inc()
}

// WindowRejected counts an invalid window returned by the catalog.
func (c *TrackingCollector) WindowRejected(objectID string) {
	if c == nil || c.RejectedWindow == nil {
		return
	}
	c.RejectedWindow.WithLabelValues(objectID).Inc()
}

// QueueDepth updates the queued windows gauge.
func (c *TrackingCollector) QueueDepth(n int) {
	if c == nil || c.QueueDepthG == nil {
		return
	}
	c.QueueDepthG.Set(float64(n))
}

// Preempted counts a pass interrupted for a higher one.
func (c *TrackingCollector) Preempted() {
	if c == nil || c.Preemptions == nil {
		return
	}
	c.Preemptions.Inc()
}
