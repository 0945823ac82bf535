/*
Package resilience provides the circuit breaker guarding remote page links.

A framed page talks to the host over a WebSocket. When the link stalls or
the page stops answering, evaluations fail fast instead of piling up until
the breaker lets a trial call through again.

# Usage

	breaker := resilience.New("page-link", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		MaxFailures: 5,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	err := breaker.Do(ctx, func(ctx context.Context) error {
		return link.roundTrip(ctx, req)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
