// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
)

var _ = Describe("PostgresMessageStore", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		messages  *store.PostgresMessageStore
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("connectly_test"),
			postgres.WithUsername("connectly"),
			postgres.WithPassword("connectly"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	Describe("Migrator", func() {
		It("migrates up, down and up again", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer migrator.Close()

			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
			Expect(dirty).To(BeFalse())

			Expect(migrator.Up()).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeNumerically("==", 1))

			pending, err := migrator.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())

			Expect(migrator.Down()).To(Succeed())
			Expect(migrator.Up()).To(Succeed())
		})
	})

	Describe("messages", func() {
		BeforeEach(func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			Expect(migrator.Up()).To(Succeed())
			Expect(migrator.Close()).To(Succeed())

			messages, err = store.OpenPostgres(ctx, connStr)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(messages.Close()).To(Succeed())
		})

		It("appends and pages a conversation", func() {
			var ids []ulid.ULID
			for i, text := range []string{"one", "two", "three"} {
				from, to := presence.UserID("alice"), presence.UserID("bob")
				if i%2 == 1 {
					from, to = to, from
				}
				msg := store.Message{
					ID:         presence.NewULID(),
					SenderID:   from,
					ReceiverID: to,
					Text:       text,
					CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
				}
				Expect(messages.Append(ctx, msg)).To(Succeed())
				ids = append(ids, msg.ID)
			}

			page, err := messages.Conversation(ctx, "bob", "alice", ulid.ULID{}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(page).To(HaveLen(2))
			Expect(page[0].Text).To(Equal("two"))
			Expect(page[1].Text).To(Equal("three"))

			older, err := messages.Conversation(ctx, "alice", "bob", ids[1], 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(older).To(HaveLen(1))
			Expect(older[0].ID).To(Equal(ids[0]))
		})

		It("rejects duplicate ids", func() {
			msg := store.Message{
				ID:         presence.NewULID(),
				SenderID:   "carol",
				ReceiverID: "dave",
				Text:       "once",
				CreatedAt:  time.Now().UTC(),
			}
			Expect(messages.Append(ctx, msg)).To(Succeed())
			Expect(messages.Append(ctx, msg)).To(MatchError(store.ErrMessageExists))
		})

		It("answers pings", func() {
			Expect(messages.Ping(ctx)).To(Succeed())
		})
	})
})
