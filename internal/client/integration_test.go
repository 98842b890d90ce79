package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/grocery-tracker/internal/auth"
	"github.com/zombor/grocery-tracker/internal/entry"
	"github.com/zombor/grocery-tracker/internal/table"
)

var _ = Describe("Integration", func() {
	var (
		db       *entry.BoltDB
		verifier *auth.JWTVerifier
		ts       *httptest.Server
		alice    *Client
		bob      *Client
		ctx      context.Context
	)

	tokenFor := func(subject string) StaticToken {
		token, err := verifier.Issue(subject, time.Hour)
		Expect(err).NotTo(HaveOccurred())
		return StaticToken(token)
	}

	BeforeEach(func() {
		var err error
		db, err = entry.NewBoltDB(filepath.Join(GinkgoT().TempDir(), "grocery.db"))
		Expect(err).NotTo(HaveOccurred())

		verifier = auth.NewJWTVerifier("integration-secret")
		service := entry.NewService(db, nil, entry.Validator{})
		ts = httptest.NewServer(entry.NewServer(service, verifier, nil))

		alice = New(ts.URL, tokenFor("alice"))
		bob = New(ts.URL, tokenFor("bob"))
		ctx = context.Background()
	})

	AfterEach(func() {
		ts.Close()
		Expect(db.Close()).To(Succeed())
	})

	It("should create, list, update and delete an entry", func() {
		created, err := alice.CreateEntry(ctx, entry.Payload{
			Date:           ptr("2024-01-15"),
			TotalAmount:    ptr(412.75),
			DiscountAmount: ptr(35.5),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).NotTo(BeEmpty())
		Expect(created.CreatedAt.Equal(created.UpdatedAt)).To(BeTrue())

		entries, err := alice.ListEntries(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(table.FormatDay(entries[0])).To(Equal("15/01/2024"))

		updated, err := alice.UpdateEntry(ctx, created.ID, entry.Payload{DiscountAmount: ptr(40.0)})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.DiscountAmount).To(Equal(40.0))
		Expect(updated.TotalAmount).To(Equal(412.75))
		Expect(updated.UpdatedAt.After(created.UpdatedAt)).To(BeTrue())

		Expect(alice.DeleteEntry(ctx, created.ID)).To(Succeed())
		entries, err = alice.ListEntries(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("should keep users apart", func() {
		created, err := alice.CreateEntry(ctx, entry.Payload{
			Date:           ptr("2024-01-15"),
			TotalAmount:    ptr(10.0),
			DiscountAmount: ptr(0.0),
		})
		Expect(err).NotTo(HaveOccurred())

		entries, err := bob.ListEntries(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())

		_, err = bob.UpdateEntry(ctx, created.ID, entry.Payload{TotalAmount: ptr(0.0)})
		Expect(err).To(MatchError("Grocery entry not found"))
		Expect(bob.DeleteEntry(ctx, created.ID)).To(MatchError("Grocery entry not found"))
	})

	It("should reject a bad token on ping", func() {
		stranger := New(ts.URL, StaticToken("not-a-token"))
		_, err := stranger.Ping(ctx)
		Expect(err).To(MatchError("Unauthorized: Invalid token"))
		Expect(err.(*APIError).StatusCode).To(Equal(http.StatusUnauthorized))

		body, err := alice.Ping(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(body).To(Equal("pong"))
	})

	It("should push changes to a subscriber", func() {
		sub, err := alice.Subscribe(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer sub.Stop()

		var snapshot []*entry.Entry
		Eventually(sub.Updates()).Should(Receive(&snapshot))
		Expect(snapshot).To(BeEmpty())

		_, err = alice.CreateEntry(ctx, entry.Payload{
			Date:           ptr("2024-02-01"),
			TotalAmount:    ptr(99.0),
			DiscountAmount: ptr(1.0),
		})
		Expect(err).NotTo(HaveOccurred())

		Eventually(sub.Updates()).Should(Receive(&snapshot))
		Expect(snapshot).To(HaveLen(1))
		Expect(snapshot[0].TotalAmount).To(Equal(99.0))
	})
})
