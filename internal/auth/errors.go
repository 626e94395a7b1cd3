// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package auth

import "errors"

// ErrTokenInvalid is returned for tokens that are malformed, expired, signed
// with the wrong key, or carry no subject.
var ErrTokenInvalid = errors.New("token invalid")
