// Package internal groups the building blocks that authbroker composes but does
// not expose.
//
// # Sub-packages
//
//   - audit: async audit event dispatch (Dispatcher and Sink implementations)
//   - httpapi: the chi HTTP adapter served by cmd/authbroker
//   - limiters: the login lockout tracker over the attempt log
//   - logger: the zerolog wrapper
//   - rate: the Redis fixed-window limiter and its key builders
//   - store: the Postgres UserStore
//   - stores: single-use email verification and password reset tokens
package internal
