// Package api implements the HTTP handlers for the identity manager and the
// feed aggregator: anonymous bootstrap, cookie install, identity extraction,
// logout, short-lived delegation, the OAuth handshake, and per-session feed
// paging.
package api
