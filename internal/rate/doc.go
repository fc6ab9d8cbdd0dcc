// Package rate provides Redis fixed-window counters.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit, so a window starts at the first request and
// does not slide. Keys are {prefix}:rl:{key}.
package rate
