package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type storeHarness struct {
	store   RefreshTokenStore
	clock   *clock.MockClock
	advance func(d time.Duration)
}

type harnessFactory func(t *testing.T) storeHarness

func params(id string, user userdomain.ID, h storeHarness) CreateParams {
	return CreateParams{
		TokenID:   id,
		UserID:    user,
		ExpiresAt: h.clock.Now().Add(time.Hour).Truncate(time.Second),
		UserAgent: "test-agent",
		SourceIP:  "10.0.0.1",
	}
}

func runStoreContract(t *testing.T, newHarness harnessFactory) {
	t.Run("create and find", func(t *testing.T) { testCreateAndFind(t, newHarness(t)) })
	t.Run("duplicate id", func(t *testing.T) { testDuplicateID(t, newHarness(t)) })
	t.Run("revoke is idempotent", func(t *testing.T) { testRevokeIdempotent(t, newHarness(t)) })
	t.Run("delete reports existence", func(t *testing.T) { testDelete(t, newHarness(t)) })
	t.Run("revoke all for user", func(t *testing.T) { testRevokeAllForUser(t, newHarness(t)) })
	t.Run("rotate once", func(t *testing.T) { testRotateOnce(t, newHarness(t)) })
	t.Run("rotate revoked", func(t *testing.T) { testRotateRevoked(t, newHarness(t)) })
	t.Run("rotate unknown", func(t *testing.T) { testRotateUnknown(t, newHarness(t)) })
	t.Run("rotate owner mismatch", func(t *testing.T) { testRotateOwnerMismatch(t, newHarness(t)) })
	t.Run("rotate duplicate next id", func(t *testing.T) { testRotateDuplicateNext(t, newHarness(t)) })
	t.Run("concurrent rotate has one winner", func(t *testing.T) { testConcurrentRotate(t, newHarness(t)) })
	t.Run("revoke all races create", func(t *testing.T) { testRevokeAllRacesCreate(t, newHarness(t)) })
	t.Run("expired records disappear", func(t *testing.T) { testExpiry(t, newHarness(t)) })
}

func testCreateAndFind(t *testing.T, h storeHarness) {
	ctx := context.Background()
	p := params("tok-1", "user-1", h)

	created, err := h.store.Create(ctx, p)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if created.Revoked {
		t.Error("new record must not be revoked")
	}

	found, err := h.store.FindByID(ctx, "tok-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found.UserID != "user-1" || found.UserAgent != "test-agent" || found.SourceIP != "10.0.0.1" {
		t.Errorf("unexpected record %+v", found)
	}
	if !found.ExpiresAt.Equal(p.ExpiresAt) {
		t.Errorf("expected expiry %v, got %v", p.ExpiresAt, found.ExpiresAt)
	}

	if _, err := h.store.FindByID(ctx, "missing"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("expected ErrRefreshTokenNotFound, got %v", err)
	}
}

func testDuplicateID(t *testing.T, h storeHarness) {
	ctx := context.Background()
	if _, err := h.store.Create(ctx, params("tok-1", "user-1", h)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_, err := h.store.Create(ctx, params("tok-1", "user-2", h))
	if !errors.Is(err, ErrDuplicateTokenID) {
		t.Fatalf("expected ErrDuplicateTokenID, got %v", err)
	}

	found, _ := h.store.FindByID(ctx, "tok-1")
	if found.UserID != "user-1" {
		t.Errorf("duplicate create must not overwrite, got owner %s", found.UserID)
	}
}

func testRevokeIdempotent(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))

	for i := 0; i < 2; i++ {
		if err := h.store.Revoke(ctx, "tok-1"); err != nil {
			t.Fatalf("revoke %d: expected no error, got %v", i, err)
		}
	}
	if err := h.store.Revoke(ctx, "missing"); err != nil {
		t.Fatalf("revoke of absent token must be a no-op, got %v", err)
	}

	found, err := h.store.FindByID(ctx, "tok-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !found.Revoked {
		t.Error("expected revoked record")
	}
}

func testDelete(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))

	existed, err := h.store.Delete(ctx, "tok-1")
	if err != nil || !existed {
		t.Fatalf("expected delete of existing token, got %v %v", existed, err)
	}

	existed, err = h.store.Delete(ctx, "tok-1")
	if err != nil || existed {
		t.Fatalf("expected second delete to report absence, got %v %v", existed, err)
	}

	if _, err := h.store.FindByID(ctx, "tok-1"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("expected ErrRefreshTokenNotFound, got %v", err)
	}
}

func testRevokeAllForUser(t *testing.T, h storeHarness) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = h.store.Create(ctx, params(fmt.Sprintf("a-%d", i), "user-a", h))
	}
	_, _ = h.store.Create(ctx, params("b-0", "user-b", h))

	count, err := h.store.RevokeAllForUser(ctx, "user-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 affected records, got %d", count)
	}

	for i := 0; i < 3; i++ {
		rec, _ := h.store.FindByID(ctx, fmt.Sprintf("a-%d", i))
		if !rec.Revoked {
			t.Errorf("expected a-%d revoked", i)
		}
	}
	other, _ := h.store.FindByID(ctx, "b-0")
	if other.Revoked {
		t.Error("other users must be untouched")
	}

	count, err = h.store.RevokeAllForUser(ctx, "nobody")
	if err != nil || count != 0 {
		t.Errorf("expected 0 for unknown user, got %d %v", count, err)
	}
}

func testRotateOnce(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))

	old, err := h.store.Rotate(ctx, "tok-1", params("tok-2", "user-1", h))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if old.TokenID != "tok-1" || old.UserID != "user-1" {
		t.Errorf("unexpected old record %+v", old)
	}

	if _, err := h.store.FindByID(ctx, "tok-1"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("rotated token must leave the live set, got %v", err)
	}
	if _, err := h.store.FindByID(ctx, "tok-2"); err != nil {
		t.Errorf("expected successor to be live, got %v", err)
	}

	replayed, err := h.store.Rotate(ctx, "tok-1", params("tok-3", "user-1", h))
	if !errors.Is(err, ErrRefreshTokenConsumed) {
		t.Fatalf("expected ErrRefreshTokenConsumed, got %v", err)
	}
	if replayed.UserID != "user-1" {
		t.Errorf("consumed marker must identify owner, got %+v", replayed)
	}
	if _, err := h.store.FindByID(ctx, "tok-3"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Error("failed rotation must not create a successor")
	}

	if existed, _ := h.store.Delete(ctx, "tok-1"); existed {
		t.Error("consumed token must not be deletable as live")
	}
	if _, err := h.store.Create(ctx, params("tok-1", "user-1", h)); !errors.Is(err, ErrDuplicateTokenID) {
		t.Errorf("consumed id must stay reserved, got %v", err)
	}
}

func testRotateRevoked(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))
	_ = h.store.Revoke(ctx, "tok-1")

	rec, err := h.store.Rotate(ctx, "tok-1", params("tok-2", "user-1", h))
	if !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
	}
	if rec.UserID != "user-1" || !rec.Revoked {
		t.Errorf("expected revoked record of user-1, got %+v", rec)
	}
	if _, err := h.store.FindByID(ctx, "tok-2"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Error("revoked rotation must not create a successor")
	}
	if _, err := h.store.FindByID(ctx, "tok-1"); err != nil {
		t.Errorf("revoked record must be retained, got %v", err)
	}
}

func testRotateUnknown(t *testing.T, h storeHarness) {
	_, err := h.store.Rotate(context.Background(), "ghost", params("tok-2", "user-1", h))
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
	}
}

func testRotateOwnerMismatch(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))

	_, err := h.store.Rotate(ctx, "tok-1", params("tok-2", "user-2", h))
	if !errors.Is(err, ErrRefreshTokenOwnerMismatch) {
		t.Fatalf("expected ErrRefreshTokenOwnerMismatch, got %v", err)
	}
	if _, err := h.store.FindByID(ctx, "tok-1"); err != nil {
		t.Errorf("original must stay live, got %v", err)
	}
}

func testRotateDuplicateNext(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))
	_, _ = h.store.Create(ctx, params("tok-2", "user-1", h))

	_, err := h.store.Rotate(ctx, "tok-1", params("tok-2", "user-1", h))
	if !errors.Is(err, ErrDuplicateTokenID) {
		t.Fatalf("expected ErrDuplicateTokenID, got %v", err)
	}
	if _, err := h.store.FindByID(ctx, "tok-1"); err != nil {
		t.Errorf("failed rotation must keep the original live, got %v", err)
	}
}

func testConcurrentRotate(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-0", "user-1", h))

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.store.Rotate(ctx, "tok-0", params(fmt.Sprintf("next-%d", i), "user-1", h))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrRefreshTokenConsumed):
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func testRevokeAllRacesCreate(t *testing.T, h storeHarness) {
	ctx := context.Background()
	const perPhase = 10

	var wg sync.WaitGroup
	create := func(id string) {
		defer wg.Done()
		if _, err := h.store.Create(ctx, params(id, "user-1", h)); err != nil {
			t.Errorf("create %s: %v", id, err)
		}
	}

	for i := 0; i < perPhase; i++ {
		wg.Add(1)
		go create(fmt.Sprintf("before-%d", i))
	}
	wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := h.store.RevokeAllForUser(ctx, "user-1"); err != nil {
			t.Errorf("revoke all: %v", err)
		}
	}()
	for i := 0; i < perPhase; i++ {
		wg.Add(1)
		go create(fmt.Sprintf("during-%d", i))
	}
	wg.Wait()

	for i := 0; i < perPhase; i++ {
		rec, err := h.store.FindByID(ctx, fmt.Sprintf("before-%d", i))
		if err != nil || !rec.Revoked {
			t.Errorf("before-%d: expected revoked record, got %+v %v", i, rec, err)
		}
		if _, err := h.store.FindByID(ctx, fmt.Sprintf("during-%d", i)); err != nil {
			t.Errorf("during-%d: expected record to exist, got %v", i, err)
		}
	}
}

func testExpiry(t *testing.T, h storeHarness) {
	ctx := context.Background()
	_, _ = h.store.Create(ctx, params("tok-1", "user-1", h))
	_, _ = h.store.Rotate(ctx, "tok-1", params("tok-2", "user-1", h))

	h.advance(2 * time.Hour)

	if _, err := h.store.DeleteExpired(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := h.store.FindByID(ctx, "tok-2"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("expected expired record gone, got %v", err)
	}
	if _, err := h.store.Rotate(ctx, "tok-1", params("tok-3", "user-1", h)); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("expected consumed marker purged, got %v", err)
	}
}
