/*
Package config loads engine settings from YAML or JSON.

# Overview

Config wraps a map[string]any and provides typed accessors that return a
default when a key is missing or holds the wrong type. Keys may be dotted
paths into nested maps:

	cfg, err := config.FromFile("proactor.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	workers := cfg.Int("pools.blocking.workers", 8)

Settings decodes the keys the engine understands:

	max_concurrency: 256        # 0 or absent: unlimited
	eager_admission: true
	inline_blocking: false
	shutdown_timeout: 5s
	backpressure: wait          # wait | fail | drop
	retry:
	  max_retries: 8            # 0: fail on the first rejection
	  initial_backoff: 2ms
	  max_backoff: 100ms
	  backoff_factor: 2
	  jitter: 0.1
	pools:
	  event_loop:    {workers: 4, queue: 1024}
	  blocking:      {workers: 32, queue: 1024}
	  cpu_intensive: {workers: 4, queue: 256}

# Type Coercion

Duration accepts a string parsed with time.ParseDuration, a number of
seconds, or a time.Duration. Int accepts whole floats, which is what JSON
numbers decode to.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
