// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package e2e

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/connectly/connectly/internal/gateway"
	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
)

var _ = Describe("Presence and live delivery", func() {
	var env *testEnv

	BeforeEach(func() {
		env = newTestEnv()
	})

	AfterEach(func() {
		env.Close()
	})

	It("tracks two users through connect, message and disconnect", func() {
		watcher := env.connect("")
		watcher.awaitOnline()

		alice := env.connect("alice")
		alice.awaitOnline("alice")
		watcher.awaitOnline("alice")

		bob := env.connect("bob")
		bob.awaitOnline("alice", "bob")
		alice.awaitOnline("alice", "bob")
		watcher.awaitOnline("alice", "bob")

		alice.send(gateway.ClientFrame{Type: gateway.FrameSend, Ref: "m1", To: "bob", Text: "hi bob"})

		ack := decodeAck(alice.nextOfType(presence.EventAck))
		Expect(ack.Ref).To(Equal("m1"))
		Expect(ack.Outcome).To(Equal(presence.Delivered))
		Expect(ack.Pushed).To(Equal(1))

		ev := bob.nextOfType(presence.EventMessage)
		Expect(ev.From).To(Equal(presence.UserID("alice")))
		var msg store.Message
		Expect(json.Unmarshal(ev.Payload, &msg)).To(Succeed())
		Expect(msg.Text).To(Equal("hi bob"))
		Expect(msg.ReceiverID).To(Equal(presence.UserID("bob")))

		alice.close()
		bob.awaitOnline("bob")
		watcher.awaitOnline("bob")

		bob.close()
		watcher.awaitOnline()
		watcher.close()
	})

	It("keeps a user online until the last of several sessions closes", func() {
		watcher := env.connect("")
		watcher.awaitOnline()

		laptop := env.connect("alice")
		watcher.awaitOnline("alice")
		phone := env.connect("alice")
		phone.awaitOnline("alice")

		laptop.close()
		Eventually(func() []presence.HandleID {
			return env.core.Registry.SessionsFor("alice")
		}).Should(HaveLen(1))
		Expect(env.core.Controller.Online()).To(ConsistOf(presence.UserID("alice")))

		phone.close()
		watcher.awaitOnline()
		watcher.close()
	})

	It("delivers to every live session of the recipient", func() {
		bobDesk := env.connect("bob")
		bobDesk.awaitOnline("bob")
		bobPhone := env.connect("bob")
		bobPhone.awaitOnline("bob")
		alice := env.connect("alice")
		alice.awaitOnline("alice", "bob")

		alice.send(gateway.ClientFrame{Type: gateway.FrameSend, To: "bob", Text: "both tabs"})
		ack := decodeAck(alice.nextOfType(presence.EventAck))
		Expect(ack.Pushed).To(Equal(2))

		Expect(bobDesk.nextOfType(presence.EventMessage).From).To(Equal(presence.UserID("alice")))
		Expect(bobPhone.nextOfType(presence.EventMessage).From).To(Equal(presence.UserID("alice")))
	})

	It("persists messages for offline recipients without pushing", func() {
		alice := env.connect("alice")
		alice.awaitOnline("alice")

		alice.send(gateway.ClientFrame{Type: gateway.FrameSend, Ref: "later", To: "carol", Text: "see you"})
		ack := decodeAck(alice.nextOfType(presence.EventAck))
		Expect(ack.Outcome).To(Equal(presence.RecipientOffline))
		Expect(ack.MessageID).NotTo(BeEmpty())
		Expect(env.messages.Len()).To(Equal(1))

		carol := env.connect("carol")
		carol.awaitOnline("alice", "carol")
		carol.expectNoEvent(presence.EventMessage, 200*time.Millisecond)

		history, err := env.messages.Conversation(context.Background(), "carol", "alice", ulid.ULID{}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
		Expect(history[0].Text).To(Equal("see you"))
	})
})
