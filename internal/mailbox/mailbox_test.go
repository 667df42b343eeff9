package mailbox_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnabnubne/Real-time-Person-Detection-with-Audio-Alerts/internal/mailbox"
)

func TestWaitNextObservesStrictlyIncreasingIDs(t *testing.T) {
	mb := mailbox.New[int]()

	var (
		wg   sync.WaitGroup
		seen []uint64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last uint64
		for {
			_, id, err := mb.WaitNext(last)
			if errors.Is(err, mailbox.ErrClosed) {
				return
			}
			if err != nil {
				t.Errorf("WaitNext() error = %v", err)
				return
			}
			seen = append(seen, id)
			last = id
		}
	}()

	for i := uint64(1); i <= 500; i++ {
		mb.Publish(int(i), i)
		if i%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(20 * time.Millisecond)
	mb.Close()
	wg.Wait()

	if len(seen) == 0 {
		t.Fatal("reader observed no ids")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("ids not strictly increasing at %d: %d after %d", i, seen[i], seen[i-1])
		}
	}
}

func TestPublishOverwritesWithoutQueueing(t *testing.T) {
	mb := mailbox.New[string]()
	for i := uint64(1); i <= 10; i++ {
		mb.Publish("frame", i)
	}
	mb.Publish("latest", 11)

	v, id, err := mb.WaitNext(0)
	if err != nil {
		t.Fatalf("WaitNext() error = %v", err)
	}
	if v != "latest" || id != 11 {
		t.Fatalf("WaitNext() = (%q, %d), want (\"latest\", 11)", v, id)
	}

	// nothing newer than 11 is pending
	if _, _, err := mb.WaitNextTimeout(id, 20*time.Millisecond); !errors.Is(err, mailbox.ErrTimeout) {
		t.Fatalf("WaitNextTimeout() error = %v, want ErrTimeout", err)
	}
	if got := mb.Drops(); got != 10 {
		t.Errorf("Drops() = %d, want 10", got)
	}
}

func TestWaitNextBlocksUntilNewerID(t *testing.T) {
	mb := mailbox.New[int]()
	mb.Publish(1, 1)

	got := make(chan uint64, 1)
	go func() {
		_, id, err := mb.WaitNext(1)
		if err == nil {
			got <- id
		}
	}()

	select {
	case id := <-got:
		t.Fatalf("WaitNext(1) returned early with id %d", id)
	case <-time.After(30 * time.Millisecond):
	}

	mb.Publish(2, 2)
	select {
	case id := <-got:
		if id != 2 {
			t.Fatalf("WaitNext(1) id = %d, want 2", id)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitNext(1) did not wake after publish")
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	mb := mailbox.New[int]()

	errc := make(chan error, 2)
	go func() {
		_, _, err := mb.WaitNext(0)
		errc <- err
	}()
	go func() {
		_, _, err := mb.WaitNextTimeout(0, time.Hour)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	mb.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errc:
			if !errors.Is(err, mailbox.ErrClosed) {
				t.Errorf("waiter error = %v, want ErrClosed", err)
			}
		case <-time.After(time.Second):
			t.Fatal("waiter still blocked after Close")
		}
	}

	mb.Publish(5, 5)
	if _, id, ok := mb.TrySnapshot(); ok && id == 5 {
		t.Error("Publish after Close changed the slot")
	}
}

func TestTrySnapshot(t *testing.T) {
	mb := mailbox.New[[]byte]()
	if _, _, ok := mb.TrySnapshot(); ok {
		t.Fatal("TrySnapshot() on empty mailbox reported a value")
	}

	mb.Publish([]byte{0xff, 0xd8}, 7)
	v, id, ok := mb.TrySnapshot()
	if !ok || id != 7 || len(v) != 2 {
		t.Fatalf("TrySnapshot() = (%v, %d, %v)", v, id, ok)
	}
}
