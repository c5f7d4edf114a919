/*
Package resilience provides circuit breakers for remote fetches.

A Breaker counts consecutive failures. Once the limit is reached it opens
and rejects calls with ErrCircuitOpen until the cooldown elapses; then one
trial request is let through in half-open state.

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                             |
	                                         [failure]
	                                             v
	                                           Open

A Group keys breakers by remote host so one unreachable image server does
not stall loads from the others.

	hosts := resilience.NewGroup(resilience.Settings{Failures: 3, Cooldown: time.Minute})
	err := hosts.Do(u.Host, func() error {
		return fetch(u)
	})
*/
package resilience
