package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/zombor/grocery-tracker/internal/entry"
)

// Subscription receives entry list snapshots pushed by the server
type Subscription struct {
	updates chan []*entry.Entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once

	mu  sync.Mutex
	err error
}

// Updates delivers the newest snapshot; it is closed when the stream ends
func (s *Subscription) Updates() <-chan []*entry.Entry {
	return s.updates
}

// Stop closes the stream and waits for the reader to exit. Safe to call more than once.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
	})
	s.wg.Wait()
}

// Err returns the error that ended the stream, or nil if it was stopped
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// deliver replaces any unread snapshot with the newer one
func (s *Subscription) deliver(ctx context.Context, snapshot []*entry.Entry) {
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	case <-ctx.Done():
	}
}

// Subscribe opens the server's entry stream. The first snapshot is the current list.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(ctx, http.MethodGet, "/api/groceryEntries/stream", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", msgSubscribe, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, apiError(resp, msgSubscribe)
	}

	sub := &Subscription{
		updates: make(chan []*entry.Entry, 1),
		cancel:  cancel,
	}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(sub.updates)
		defer resp.Body.Close()

		err := readEvents(resp.Body, func(data string) error {
			var snapshot []*entry.Entry
			if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
				return fmt.Errorf("decoding snapshot: %w", err)
			}
			sub.deliver(ctx, snapshot)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			slog.Debug("Entry stream ended", "error", err)
			sub.setErr(fmt.Errorf("%s: %w", msgSubscribe, err))
		}
	}()

	return sub, nil
}

// readEvents calls fn with the data of each SSE event until r is exhausted
func readEvents(r io.Reader, fn func(data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 8<<20)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			if err := fn(strings.Join(data, "\n")); err != nil {
				return err
			}
			data = data[:0]
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
