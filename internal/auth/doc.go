// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package auth resolves bearer tokens to user identities.
//
// The presence core trusts whatever identity a Verifier returns; this package
// is the only place tokens are inspected. JWTVerifier accepts HS256 tokens
// whose subject is the user identity. Issuer mints matching tokens for
// development and tests.
//
// FailureTracker throttles clients that keep presenting bad tokens.
package auth
