package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

type memGuard struct {
	seen map[string]bool
	err  error
}

func (g *memGuard) Begin(ctx context.Context, key string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *memGuard) Release(ctx context.Context, key string) error {
	delete(g.seen, key)
	return nil
}

// countingLedger records posts and fails the first failUntil calls.
type countingLedger struct {
	posts     []string
	calls     int
	failUntil int
}

func (l *countingLedger) Post(ctx context.Context, transactionID string, amount decimal.Decimal, currency string, kind Kind, idempotencyKey string) error {
	l.calls++
	if l.calls <= l.failUntil {
		return errors.New("ledger service unavailable")
	}
	l.posts = append(l.posts, idempotencyKey)
	return nil
}

func TestWithIdempotencyPostsOncePerKey(t *testing.T) {
	inner := &countingLedger{}
	led := WithIdempotency(inner, &memGuard{})

	for i := 0; i < 3; i++ {
		err := led.Post(context.Background(), "txn_1", decimal.NewFromInt(10), "USD", KindCapture, "txn_1")
		if err != nil {
			t.Fatalf("Post failed: %v", err)
		}
	}
	if len(inner.posts) != 1 {
		t.Fatalf("expected one inner post for a repeated key, got %d", len(inner.posts))
	}

	// A different key posts independently.
	if err := led.Post(context.Background(), "txn_1", decimal.NewFromInt(-10), "USD", KindRefund, "refund:ref_1"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if len(inner.posts) != 2 {
		t.Fatalf("expected the second key to post, got %d", len(inner.posts))
	}
}

func TestWithIdempotencyReleasesKeyOnPostingFailure(t *testing.T) {
	inner := &countingLedger{failUntil: 1}
	guard := &memGuard{}
	led := WithIdempotency(inner, guard)

	err := led.Post(context.Background(), "txn_1", decimal.NewFromInt(10), "USD", KindCapture, "txn_1")
	if err == nil {
		t.Fatal("expected the inner posting error to surface")
	}
	if len(inner.posts) != 0 {
		t.Fatalf("the failed attempt must not record a post, got %v", inner.posts)
	}

	// The key was given back, so a replay of the event posts for real.
	if err := led.Post(context.Background(), "txn_1", decimal.NewFromInt(10), "USD", KindCapture, "txn_1"); err != nil {
		t.Fatalf("replay after a failed post must go through: %v", err)
	}
	if inner.calls != 2 || len(inner.posts) != 1 {
		t.Fatalf("expected the replay to reach the inner ledger, calls %d, posts %v", inner.calls, inner.posts)
	}

	// And a further replay is a duplicate again.
	if err := led.Post(context.Background(), "txn_1", decimal.NewFromInt(10), "USD", KindCapture, "txn_1"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if len(inner.posts) != 1 {
		t.Errorf("expected exactly one successful post, got %v", inner.posts)
	}
}

func TestWithIdempotencyPropagatesGuardErrors(t *testing.T) {
	inner := &countingLedger{}
	guardErr := errors.New("redis down")
	led := WithIdempotency(inner, &memGuard{err: guardErr})

	err := led.Post(context.Background(), "txn_1", decimal.NewFromInt(10), "USD", KindCapture, "txn_1")
	if !errors.Is(err, guardErr) {
		t.Fatalf("expected the guard error, got %v", err)
	}
	if len(inner.posts) != 0 {
		t.Errorf("a failed guard must block the post, got %d", len(inner.posts))
	}
}
