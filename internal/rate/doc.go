// Package rate provides fixed-window Redis counters.
//
// A window starts on the first hit for a subject: INCR followed by EXPIRE
// when the counter is new. Keys are "<prefix>:<subject>".
package rate
