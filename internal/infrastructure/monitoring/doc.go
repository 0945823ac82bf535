/*
Package monitoring provides Prometheus metrics for the bridge host.

# Overview

Metrics implements the recorder interfaces of the bridge dispatcher, the
request interceptor and the web message manager, so one collector can be
handed to every page controller. It also tracks HTTP traffic, open pages,
page links and breaker states.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))

	ctrl, err := webview.New(adapter, settings, webview.Options{Recorder: metrics})

	timer := monitoring.NewTimer(metrics, "sandbox")
	// ... evaluate ...
	timer.Stop("ok")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
