package entry_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/grocery-tracker/internal/entry"
)

// describeDB runs the same contract against every backend
func describeDB(name string, open func(dir string) (entry.DB, error)) {
	Describe(name, func() {
		var (
			db  entry.DB
			ctx context.Context
			e   *entry.Entry
		)

		BeforeEach(func() {
			var err error
			db, err = open(GinkgoT().TempDir())
			Expect(err).NotTo(HaveOccurred())
			ctx = context.Background()

			stamp := time.Date(2024, 1, 15, 10, 30, 0, 123, time.UTC)
			e = &entry.Entry{
				ID:             "entry-1",
				Date:           day(2024, 1, 15),
				TotalAmount:    100.25,
				DiscountAmount: 7.5,
				CreatedAt:      stamp,
				UpdatedAt:      stamp,
			}
		})

		AfterEach(func() {
			Expect(db.Close()).To(Succeed())
		})

		Describe("CreateEntry and ListEntries", func() {
			It("should return an empty list for a new subject", func() {
				list, err := db.ListEntries(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(list).NotTo(BeNil())
				Expect(list).To(BeEmpty())
			})

			It("should round-trip an entry", func() {
				Expect(db.CreateEntry(ctx, "user-1", e)).To(Succeed())

				list, err := db.ListEntries(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(1))
				got := list[0]
				Expect(got.ID).To(Equal("entry-1"))
				Expect(got.Date.Equal(e.Date)).To(BeTrue())
				Expect(got.TotalAmount).To(Equal(100.25))
				Expect(got.DiscountAmount).To(Equal(7.5))
				Expect(got.CreatedAt.Equal(e.CreatedAt)).To(BeTrue())
				Expect(got.UpdatedAt.Equal(e.UpdatedAt)).To(BeTrue())
			})

			It("should assign an id when none is set", func() {
				e.ID = ""
				Expect(db.CreateEntry(ctx, "user-1", e)).To(Succeed())
				Expect(e.ID).NotTo(BeEmpty())
			})

			It("should keep subjects apart", func() {
				Expect(db.CreateEntry(ctx, "user-1", e)).To(Succeed())

				list, err := db.ListEntries(ctx, "user-2")
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(BeEmpty())
			})
		})

		Describe("UpdateEntry", func() {
			BeforeEach(func() {
				Expect(db.CreateEntry(ctx, "user-1", e)).To(Succeed())
			})

			It("should apply the change and persist it", func() {
				updated, err := db.UpdateEntry(ctx, "user-1", "entry-1", func(x *entry.Entry) {
					x.TotalAmount = 50
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.TotalAmount).To(Equal(50.0))
				Expect(updated.DiscountAmount).To(Equal(7.5))

				list, err := db.ListEntries(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(list[0].TotalAmount).To(Equal(50.0))
			})

			It("should not let apply change the id", func() {
				updated, err := db.UpdateEntry(ctx, "user-1", "entry-1", func(x *entry.Entry) {
					x.ID = "other"
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.ID).To(Equal("entry-1"))
			})

			It("should return ErrNotFound for an unknown id", func() {
				_, err := db.UpdateEntry(ctx, "user-1", "missing", func(*entry.Entry) {})
				Expect(err).To(MatchError(entry.ErrNotFound))
			})

			It("should return ErrNotFound for another subject's entry", func() {
				called := false
				_, err := db.UpdateEntry(ctx, "user-2", "entry-1", func(*entry.Entry) { called = true })
				Expect(err).To(MatchError(entry.ErrNotFound))
				Expect(called).To(BeFalse())
			})
		})

		Describe("DeleteEntry", func() {
			BeforeEach(func() {
				Expect(db.CreateEntry(ctx, "user-1", e)).To(Succeed())
			})

			It("should remove the entry", func() {
				Expect(db.DeleteEntry(ctx, "user-1", "entry-1")).To(Succeed())

				list, err := db.ListEntries(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(BeEmpty())
			})

			It("should return ErrNotFound for an unknown id", func() {
				Expect(db.DeleteEntry(ctx, "user-1", "missing")).To(MatchError(entry.ErrNotFound))
			})

			It("should not delete another subject's entry", func() {
				Expect(db.DeleteEntry(ctx, "user-2", "entry-1")).To(MatchError(entry.ErrNotFound))

				list, err := db.ListEntries(ctx, "user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(1))
			})
		})
	})
}

var _ = Describe("DB", func() {
	describeDB("BoltDB", func(dir string) (entry.DB, error) {
		return entry.NewBoltDB(filepath.Join(dir, "test.db"))
	})

	describeDB("SQLiteDB", func(dir string) (entry.DB, error) {
		return entry.NewSQLiteDB(filepath.Join(dir, "data", "test.sqlite"))
	})
})
