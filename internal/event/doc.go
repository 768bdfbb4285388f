// Package event provides typed in-process notifications.
//
// An Emitter delivers values synchronously to its subscribers in
// subscription order. Components expose OnDid* methods that return a
// Subscription; cancelling it stops further deliveries.
package event
