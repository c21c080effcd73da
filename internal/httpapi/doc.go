// Package httpapi is the HTTP adapter in front of authbroker.Engine.
//
// It owns everything HTTP specific: routing with chi, JSON request and
// response bodies, the refresh token cookie, client ip and device extraction,
// and the mapping from engine errors to status codes. Authentication decisions
// are left to the engine.
package httpapi
