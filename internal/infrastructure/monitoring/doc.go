/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the host,
tracking HTTP requests, script engine throughput, cart lifecycle, and
system metrics.

# Features

- HTTP request metrics (latency, throughput)
- Script engine metrics (updates, renders, errors, UPS)
- Cart lifecycle metrics (loads, state transitions)
- WebSocket connection metrics
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record engine activity
	metrics.UpdatesTotal.Inc()
	metrics.CurrentUPS.Set(30)

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
