/*
Package monitoring provides Prometheus metrics for the feed service.

# Overview

Metrics live on a private registry. The same collector is handed to model
providers as their feed.Recorder and feed.Diagnostics, so commit latency, token
handling and internal errors show up next to HTTP and store metrics.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "payloads")
	payloads, err := contentStore.Payloads(ctx, ids)
	timer.Stop(err)
*/
package monitoring
