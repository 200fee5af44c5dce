// Package httpapi exposes the Engine's credential exchanges over HTTP with gin.
//
// # Routes
//
//   - POST /auth/sign-in and POST /auth/password-reset run one round trip of
//     the respective flow. Progress tokens travel as cookies (see
//     [progress.CookieName]) and are mirrored in the response body.
//   - POST /auth/refresh, POST /auth/sign-out, POST /auth/sign-out-all and
//     GET /auth/session sit behind the session guard.
//   - GET /healthz pings the session registry; GET /metrics serves the
//     handler passed in [Options].
//
// # Status codes
//
// 200 carries a session, 202 asks the client for the next proof, 4xx is a
// classified rejection and 500 hides everything else.
//
// # What this package must NOT do
//
//   - Decide anything about credentials (delegates to the Engine).
//   - Touch Redis or the credential store directly.
package httpapi
