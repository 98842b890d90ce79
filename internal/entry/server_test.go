package entry_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zombor/grocery-tracker/internal/entry"
	"github.com/zombor/grocery-tracker/internal/metrics"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db       *mockDB
		scanner  *mockScanner
		service  *entry.Service
		verifier *mockVerifier
		registry *prometheus.Registry
		server   *entry.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		scanner = &mockScanner{}
		service = entry.NewServiceWithDeps(db, scanner, entry.Validator{},
			&mockIDGenerator{ids: []string{"id-1", "id-2"}},
			&mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		verifier = &mockVerifier{subjects: map[string]string{
			"alice-token": "alice",
			"bob-token":   "bob",
		}}
		registry = prometheus.NewRegistry()
		server = entry.NewServer(service, verifier, metrics.New(registry))
	})

	request := func(method, path, token string, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec
	}

	errorOf := func(rec *httptest.ResponseRecorder) string {
		var body map[string]string
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body["error"]
	}

	seed := func(subject string) *entry.Entry {
		e, err := service.CreateEntry(context.Background(), subject, entry.Payload{
			Date:           ptr("2024-01-14"),
			TotalAmount:    ptr(100.0),
			DiscountAmount: ptr(10.0),
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	Describe("authentication", func() {
		DescribeTable("requests without a token",
			func(method, path string) {
				rec := request(method, path, "", "")
				Expect(rec.Code).To(Equal(http.StatusUnauthorized))
				Expect(errorOf(rec)).To(Equal("Unauthorized: No token provided"))
			},
			Entry("ping", http.MethodGet, "/api/ping"),
			Entry("list", http.MethodGet, "/api/groceryEntries"),
			Entry("create", http.MethodPost, "/api/groceryEntries"),
			Entry("update", http.MethodPatch, "/api/groceryEntries/id-1"),
			Entry("delete", http.MethodDelete, "/api/groceryEntries/id-1"),
			Entry("stream", http.MethodGet, "/api/groceryEntries/stream"),
			Entry("scan", http.MethodPost, "/api/groceryEntries/scan"),
			Entry("unknown route", http.MethodGet, "/api/nope"),
			Entry("wrong method", http.MethodPut, "/api/ping"),
		)

		It("should answer preflight requests without a token", func() {
			rec := request(http.MethodOptions, "/api/ping", "", "")
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should leave routing errors to the mux once authenticated", func() {
			Expect(request(http.MethodGet, "/api/nope", "alice-token", "").Code).To(Equal(http.StatusNotFound))
			Expect(request(http.MethodPut, "/api/ping", "alice-token", "").Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("should reject a non-bearer header", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorOf(rec)).To(Equal("Unauthorized: No token provided"))
		})

		It("should reject an invalid token", func() {
			rec := request(http.MethodGet, "/api/ping", "forged", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorOf(rec)).To(Equal("Unauthorized: Invalid token"))
		})

		It("should answer ping with a valid token", func() {
			rec := request(http.MethodGet, "/api/ping", "alice-token", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("pong"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight without auth", func() {
			rec := request(http.MethodOptions, "/api/groceryEntries", "", "")
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
		})

		It("should add headers to error responses", func() {
			rec := request(http.MethodGet, "/api/ping", "", "")
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("POST /api/groceryEntries", func() {
		It("should create an entry", func() {
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token",
				`{"date":"2024-01-14","totalAmount":100,"discountAmount":10}`)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var created entry.Entry
			Expect(json.Unmarshal(rec.Body.Bytes(), &created)).To(Succeed())
			Expect(created.ID).To(Equal("id-1"))
			Expect(created.TotalAmount).To(Equal(100.0))
			Expect(db.entries["alice"]).To(HaveKey("id-1"))
		})

		It("should reject missing fields", func() {
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token", `{"date":"2024-01-14"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("date, totalAmount, discountAmount are required"))
		})

		It("should treat null amounts as missing", func() {
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token",
				`{"date":"2024-01-14","totalAmount":null,"discountAmount":0}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("date, totalAmount, discountAmount are required"))
			Expect(db.entries["alice"]).To(BeEmpty())
		})

		It("should reject an empty body", func() {
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token", "")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("date, totalAmount, discountAmount are required"))
		})

		It("should reject an invalid date", func() {
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token",
				`{"date":"soon","totalAmount":1,"discountAmount":0}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("Invalid date"))
		})

		It("should reject malformed JSON", func() {
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token", `{"date":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("Invalid request body"))
		})

		It("should hide storage failures", func() {
			db.createErr = errors.New("disk on fire")
			rec := request(http.MethodPost, "/api/groceryEntries", "alice-token",
				`{"date":"2024-01-14","totalAmount":100,"discountAmount":10}`)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(rec)).To(Equal("Internal Server Error"))
			Expect(rec.Body.String()).NotTo(ContainSubstring("disk on fire"))
		})
	})

	Describe("GET /api/groceryEntries", func() {
		It("should return an empty array, not null", func() {
			rec := request(http.MethodGet, "/api/groceryEntries", "alice-token", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal("[]"))
		})

		It("should only return the caller's entries", func() {
			seed("alice")
			seed("bob")

			rec := request(http.MethodGet, "/api/groceryEntries", "bob-token", "")
			var list []entry.Entry
			Expect(json.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
			Expect(list).To(HaveLen(1))
			Expect(list[0].ID).To(Equal("id-2"))
		})

		It("should hide storage failures", func() {
			db.listErr = errors.New("boom")
			rec := request(http.MethodGet, "/api/groceryEntries", "alice-token", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(rec)).To(Equal("Internal Server Error"))
		})
	})

	Describe("PATCH /api/groceryEntries/{id}", func() {
		BeforeEach(func() {
			seed("alice")
		})

		It("should update the sent fields", func() {
			rec := request(http.MethodPatch, "/api/groceryEntries/id-1", "alice-token", `{"discountAmount":12.5}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var updated entry.Entry
			Expect(json.Unmarshal(rec.Body.Bytes(), &updated)).To(Succeed())
			Expect(updated.DiscountAmount).To(Equal(12.5))
			Expect(updated.TotalAmount).To(Equal(100.0))
		})

		It("should reject an empty patch", func() {
			rec := request(http.MethodPatch, "/api/groceryEntries/id-1", "alice-token", `{}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("No valid fields provided for update"))
		})

		It("should ignore null fields", func() {
			rec := request(http.MethodPatch, "/api/groceryEntries/id-1", "alice-token",
				`{"totalAmount":null,"discountAmount":12.5}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var updated entry.Entry
			Expect(json.Unmarshal(rec.Body.Bytes(), &updated)).To(Succeed())
			Expect(updated.TotalAmount).To(Equal(100.0))

			rec = request(http.MethodPatch, "/api/groceryEntries/id-1", "alice-token", `{"totalAmount":null}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("No valid fields provided for update"))
		})

		It("should return 404 for an unknown id", func() {
			rec := request(http.MethodPatch, "/api/groceryEntries/nope", "alice-token", `{"totalAmount":1}`)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(errorOf(rec)).To(Equal("Grocery entry not found"))
		})

		It("should return 404 for another user's entry", func() {
			rec := request(http.MethodPatch, "/api/groceryEntries/id-1", "bob-token", `{"totalAmount":1}`)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(db.entries["alice"]["id-1"].TotalAmount).To(Equal(100.0))
		})
	})

	Describe("DELETE /api/groceryEntries/{id}", func() {
		BeforeEach(func() {
			seed("alice")
		})

		It("should delete and return 204", func() {
			rec := request(http.MethodDelete, "/api/groceryEntries/id-1", "alice-token", "")
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Body.Len()).To(BeZero())
			Expect(db.entries["alice"]).To(BeEmpty())
		})

		It("should return 404 for another user's entry", func() {
			rec := request(http.MethodDelete, "/api/groceryEntries/id-1", "bob-token", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(db.entries["alice"]).To(HaveKey("id-1"))
		})

		It("should hide storage failures", func() {
			db.deleteErr = errors.New("boom")
			rec := request(http.MethodDelete, "/api/groceryEntries/id-1", "alice-token", "")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(rec)).To(Equal("Internal Server Error"))
		})
	})

	Describe("POST /api/groceryEntries/scan", func() {
		upload := func(filename string, data []byte) *httptest.ResponseRecorder {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			part, err := mw.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(mw.Close()).To(Succeed())

			req := httptest.NewRequest(http.MethodPost, "/api/groceryEntries/scan", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.Header.Set("Authorization", "Bearer alice-token")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			return rec
		}

		It("should return the suggestion without saving it", func() {
			scanner.result = &scanning.ReceiptData{Date: "2024-03-14", TotalAmount: 120, DiscountAmount: 20}

			rec := upload("receipt.pdf", []byte("%PDF"))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var p entry.Payload
			Expect(json.Unmarshal(rec.Body.Bytes(), &p)).To(Succeed())
			Expect(*p.Date).To(Equal("2024-03-14"))
			Expect(*p.TotalAmount).To(Equal(120.0))
			Expect(scanner.contentType).To(Equal("application/pdf"))
			Expect(db.entries).To(BeEmpty())
		})

		It("should reject unsupported files", func() {
			scanner.err = scanning.ErrUnsupportedFormat

			rec := upload("notes.txt", []byte("hello"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("Unsupported receipt format"))
		})

		It("should reject a request without a form", func() {
			rec := request(http.MethodPost, "/api/groceryEntries/scan", "alice-token", `{}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorOf(rec)).To(Equal("Error parsing form"))
		})

		It("should not be routed without a scanner", func() {
			server = entry.NewServer(entry.NewService(db, nil, entry.Validator{}), verifier, nil)

			rec := request(http.MethodPost, "/api/groceryEntries/scan", "alice-token", `{}`)
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))

			rec = request(http.MethodPost, "/api/groceryEntries/scan", "", `{}`)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("GET /api/groceryEntries/stream", func() {
		It("should send the current list and then every change", func() {
			seed("alice")

			ts := httptest.NewServer(server)
			defer ts.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/groceryEntries/stream", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer alice-token")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			events := make(chan []entry.Entry, 4)
			go func() {
				defer GinkgoRecover()
				reader := bufio.NewReader(resp.Body)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
					if !ok {
						continue
					}
					var snapshot []entry.Entry
					Expect(json.Unmarshal([]byte(data), &snapshot)).To(Succeed())
					events <- snapshot
				}
			}()

			var snapshot []entry.Entry
			Eventually(events).Should(Receive(&snapshot))
			Expect(snapshot).To(HaveLen(1))

			Expect(service.DeleteEntry(context.Background(), "alice", "id-1")).To(Succeed())
			Eventually(events).Should(Receive(&snapshot))
			Expect(snapshot).To(BeEmpty())
		})
	})

	Describe("metrics", func() {
		It("should count writes and requests by route", func() {
			request(http.MethodPost, "/api/groceryEntries", "alice-token",
				`{"date":"2024-01-14","totalAmount":100,"discountAmount":10}`)
			request(http.MethodGet, "/api/groceryEntries", "", "")
			request(http.MethodGet, "/api/nope", "", "")

			Expect(testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP grocery_entry_writes_total Counts successful entry writes by operation.
# TYPE grocery_entry_writes_total counter
grocery_entry_writes_total{op="create"} 1
`), "grocery_entry_writes_total")).To(Succeed())

			Expect(testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP grocery_http_requests_total Counts API requests by route, method and status.
# TYPE grocery_http_requests_total counter
grocery_http_requests_total{method="GET",route="GET /api/groceryEntries",status="401"} 1
grocery_http_requests_total{method="GET",route="unmatched",status="401"} 1
grocery_http_requests_total{method="POST",route="POST /api/groceryEntries",status="201"} 1
`), "grocery_http_requests_total")).To(Succeed())
		})
	})
})
