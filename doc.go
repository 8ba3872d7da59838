// Package auth implements the account and token lifecycle of the CV builder
// backend: registration with email verification, password login with
// lockout, access/refresh token rotation, logout and password reset.
//
// Tokens:
//   - TokenService issues and verifies HMAC signed JWTs. Every token carries
//     a kind (access, refresh, reset, verification) and a unique jti.
//     Verification reports expired, malformed, mistyped and id-less tokens
//     as distinct errors.
//
// Revocation:
//   - RevocationRegistry remembers revoked tokens until they would have
//     expired anyway. It is backed by a RevocationStore (see the revocation
//     and store packages) and reports backend failures as errors.
//
// Lockout:
//   - LoginGuard runs each password check through the lockout state machine
//     (active, warned, locked). The failure counter is updated with a single
//     atomic increment-and-compare in the AccountStore, so concurrent wrong
//     attempts are all counted. Only a password reset unlocks an account.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Service and
//     LoginGuard. Sinks run best-effort (errors are logged) so you can
//     forward to a database or queue without blocking authentication.
package auth
