// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package e2e runs the presence scenarios end to end over a real WebSocket
// gateway.
package e2e

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Presence E2E Suite")
}
