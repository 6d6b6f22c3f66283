package inventory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClientCheckResolvesProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inventory/check" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Cola 330ml","unit_price_cents":1200,"in_stock":true,"state":true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second)
	availability, err := client.Check(context.Background(), "PRD-COLA-01", 2)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if availability.Name != "Cola 330ml" || availability.UnitPriceCents != 1200 {
		t.Fatalf("unexpected availability: %+v", availability)
	}
	if !availability.InStock || !availability.State {
		t.Fatalf("expected in-stock enabled product")
	}
}

func TestHTTPClientCheckDistinguishesNotFoundFromUnavailable(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	client := NewHTTPClient(notFound.URL, 2*time.Second)
	_, err := client.Check(context.Background(), "PRD-GONE", 1)
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	client = NewHTTPClient(broken.URL, 2*time.Second)
	_, err = client.Check(context.Background(), "PRD-COLA-01", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 5xx, got %v", err)
	}
	if errors.Is(err, ErrProductNotFound) {
		t.Fatalf("5xx must not be conflated with product-not-found")
	}
}

func TestHTTPClientNetworkFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewHTTPClient(server.URL, time.Second)
	_, err := client.Check(context.Background(), "PRD-COLA-01", 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on refused connection, got %v", err)
	}
}

func TestHTTPClientCommitAccepts204(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inventory/commit" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 2*time.Second)
	err := client.CommitConsumption(context.Background(), []ConsumedItem{{ProductID: "PRD-COLA-01", Quantity: 3}})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

func TestNotifierDeliversAndDrainsOnClose(t *testing.T) {
	stub := NewSeededStub()
	before := stub.StockOf("PRD-COLA-01")

	notifier := NewNotifier(stub, 8, time.Second)
	notifier.EnqueueConsumption([]ConsumedItem{{ProductID: "PRD-COLA-01", Quantity: 5}})
	notifier.EnqueueReturn("PRD-COLA-01", 2)
	notifier.Close()

	if got := stub.StockOf("PRD-COLA-01"); got != before-3 {
		t.Fatalf("expected stock %d after consume+credit, got %d", before-3, got)
	}
	if len(notifier.Failed()) != 0 {
		t.Fatalf("expected no failed notifications, got %d", len(notifier.Failed()))
	}
}

func TestNotifierEnqueueAfterCloseDoesNotPanic(t *testing.T) {
	stub := NewSeededStub()
	before := stub.StockOf("PRD-COLA-01")

	notifier := NewNotifier(stub, 8, time.Second)
	notifier.Close()
	notifier.Close()

	notifier.EnqueueReturn("PRD-COLA-01", 2)

	if got := stub.StockOf("PRD-COLA-01"); got != before {
		t.Fatalf("expected stock unchanged after closed enqueue, got %d", got)
	}
	failed := notifier.Failed()
	if len(failed) != 1 {
		t.Fatalf("expected 1 retained failure, got %d", len(failed))
	}
	if failed[0].Error != "notifier closed" {
		t.Fatalf("unexpected failure reason: %q", failed[0].Error)
	}
}

type failingClient struct {
	calls atomic.Int32
}

func (f *failingClient) Check(context.Context, string, int) (Availability, error) {
	return Availability{}, ErrUnavailable
}

func (f *failingClient) CommitConsumption(context.Context, []ConsumedItem) error {
	f.calls.Add(1)
	return errors.New("inventory down")
}

func (f *failingClient) CreditReturn(context.Context, string, int) error {
	f.calls.Add(1)
	return errors.New("inventory down")
}

func TestNotifierRetainsFailuresForReconciliation(t *testing.T) {
	client := &failingClient{}
	notifier := NewNotifier(client, 8, time.Second)
	notifier.EnqueueConsumption([]ConsumedItem{{ProductID: "PRD-COLA-01", Quantity: 1}})
	notifier.EnqueueReturn("PRD-BREAD-01", 4)
	notifier.Close()

	failed := notifier.Failed()
	if len(failed) != 2 {
		t.Fatalf("expected 2 retained failures, got %d", len(failed))
	}
	if failed[0].Kind != jobConsume || failed[1].Kind != jobCredit {
		t.Fatalf("unexpected failure kinds: %+v", failed)
	}
	if client.calls.Load() != 2 {
		t.Fatalf("expected 2 delivery attempts, got %d", client.calls.Load())
	}
}

func TestStubCheckReportsStockAndState(t *testing.T) {
	stub := NewSeededStub()

	availability, err := stub.Check(context.Background(), "PRD-BREAD-01", 1000)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if availability.InStock {
		t.Fatalf("expected quantity above stock to report in_stock=false")
	}

	availability, err = stub.Check(context.Background(), "PRD-OLD-01", 1)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if availability.State {
		t.Fatalf("expected disabled product to report state=false")
	}

	if _, err := stub.Check(context.Background(), "PRD-MISSING", 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
