// Package clock provides the wall-clock source used by the membership view.
// Heartbeat timestamps have seconds resolution, so the view only ever asks
// a Clock for the current Unix second. Tests swap in a Manual clock to age
// entries past the liveness window without sleeping.
package clock
