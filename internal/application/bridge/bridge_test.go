package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/store-bridge/internal/application/bridge"
	"github.com/bivex/store-bridge/internal/domain/entity"
	apperrors "github.com/bivex/store-bridge/internal/domain/errors"
	"github.com/bivex/store-bridge/internal/domain/valueobject"
	"github.com/bivex/store-bridge/internal/infrastructure/external/store"
)

// eventRecorder collects dispatched events so tests can assert on delivery
// order without racing the dispatch goroutine.
type eventRecorder struct {
	mu     sync.Mutex
	ids    []string
	codes  []apperrors.Code
	signal chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{signal: make(chan struct{}, 64)}
}

func (r *eventRecorder) onUpdate(p *entity.Purchase) {
	r.mu.Lock()
	r.ids = append(r.ids, p.ID)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *eventRecorder) onError(e *apperrors.PurchaseError) {
	r.mu.Lock()
	r.codes = append(r.codes, e.Code)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *eventRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func (r *eventRecorder) purchaseIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func (r *eventRecorder) errorCodes() []apperrors.Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]apperrors.Code(nil), r.codes...)
}

func newTestBridge(t *testing.T, opts bridge.Options) (*bridge.Bridge, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	b := bridge.New(mem, opts)
	t.Cleanup(b.Close)
	return b, mem
}

func TestInitConnection_Lifecycle(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()

	assert.Equal(t, bridge.StateDisconnected, b.State())

	require.NoError(t, b.InitConnection(ctx))
	assert.Equal(t, bridge.StateReady, b.State())
	assert.True(t, mem.Connected())

	// Second init while ready is a no-op
	require.NoError(t, b.InitConnection(ctx))
	assert.Equal(t, 1, mem.SetListenerCalls())

	require.NoError(t, b.EndConnection(ctx))
	assert.Equal(t, bridge.StateDisconnected, b.State())
	assert.False(t, mem.Connected())
}

func TestInitConnection_ConcurrentCallsAttachListenersOnce(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	mem.SetConnectDelay(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.InitConnection(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, bridge.StateReady, b.State())
	assert.Equal(t, 1, mem.SetListenerCalls())
}

func TestInitConnection_FailureDiscardsBufferedEvents(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()

	// Attach the callback shims, then drop back to disconnected so
	// emitted events land in the buffer.
	require.NoError(t, b.InitConnection(ctx))
	require.NoError(t, b.EndConnection(ctx))

	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "buffered-1"})
	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "buffered-2"})
	require.Equal(t, 2, b.BufferedEventCount())

	mem.FailConnect(errors.New("billing unavailable"))
	err := b.InitConnection(ctx)

	var cerr *apperrors.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, apperrors.ErrConnectionFailed)
	assert.Equal(t, bridge.StateDisconnected, b.State())
	assert.Equal(t, 0, b.BufferedEventCount(), "failed connect must not retain stale events")
}

func TestInitConnection_FlushesBufferedEventsInOrder(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()

	require.NoError(t, b.InitConnection(ctx))
	require.NoError(t, b.EndConnection(ctx))

	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "tx-1"})
	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "tx-2"})
	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "tx-3"})
	require.Equal(t, 3, b.BufferedEventCount())

	rec := newEventRecorder()
	handle := b.OnPurchaseUpdated(rec.onUpdate)
	defer handle.Remove()

	require.NoError(t, b.InitConnection(ctx))
	rec.waitFor(t, 3)

	assert.Equal(t, []string{"tx-1", "tx-2", "tx-3"}, rec.purchaseIDs())
	assert.Equal(t, 0, b.BufferedEventCount())
}

func TestBufferOverflow_KeepsNewestEvents(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{EventBufferSize: 2})
	ctx := context.Background()

	require.NoError(t, b.InitConnection(ctx))
	require.NoError(t, b.EndConnection(ctx))

	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "old"})
	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "mid"})
	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "new"})
	require.Equal(t, 2, b.BufferedEventCount())

	rec := newEventRecorder()
	defer b.OnPurchaseUpdated(rec.onUpdate).Remove()

	require.NoError(t, b.InitConnection(ctx))
	rec.waitFor(t, 2)

	assert.Equal(t, []string{"mid", "new"}, rec.purchaseIDs())
}

func TestRequestPurchase_ResolvesAndEmitsSameResult(t *testing.T) {
	b, _ := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	rec := newEventRecorder()
	defer b.OnPurchaseUpdated(rec.onUpdate).Remove()

	purchases, err := b.RequestPurchase(ctx, &entity.PurchaseParams{
		Type: "inapp",
		IOS:  &entity.IOSPurchaseParams{SKU: "com.app.coins"},
	})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "com.app.coins", purchases[0].ProductID)
	assert.Equal(t, valueobject.PlatformIOS, purchases[0].Platform)

	rec.waitFor(t, 1)
	assert.Equal(t, []string{purchases[0].ID}, rec.purchaseIDs(),
		"event must carry the same transaction the call resolved with")
}

func TestRequestPurchase_FailureRejectsAndEmitsSameCode(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	mem.FailPurchase(apperrors.NewPurchaseError(
		apperrors.CodeUserCancelled, "ios", "user dismissed the sheet"))

	rec := newEventRecorder()
	defer b.OnPurchaseError(rec.onError).Remove()

	_, err := b.RequestPurchase(ctx, &entity.PurchaseParams{
		IOS: &entity.IOSPurchaseParams{SKU: "com.app.coins"},
	})

	var perr *apperrors.PurchaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, apperrors.CodeUserCancelled, perr.Code)
	assert.True(t, perr.Code.IsUserCancelled())

	rec.waitFor(t, 1)
	assert.Equal(t, []apperrors.Code{apperrors.CodeUserCancelled}, rec.errorCodes())
}

func TestRequestPurchase_RequiresReadyConnection(t *testing.T) {
	b, _ := newTestBridge(t, bridge.Options{})

	_, err := b.RequestPurchase(context.Background(), &entity.PurchaseParams{
		IOS: &entity.IOSPurchaseParams{SKU: "com.app.coins"},
	})

	var perr *apperrors.PurchaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, apperrors.CodeNotReady, perr.Code)
}

func TestRequestPurchase_ValidationFailsBeforeStoreCall(t *testing.T) {
	b, _ := newTestBridge(t, bridge.Options{})

	// Invalid request on a disconnected bridge: validation wins.
	_, err := b.RequestPurchase(context.Background(), &entity.PurchaseParams{})
	assert.True(t, apperrors.IsValidation(err))
}

// blockingStore wraps the memory store with a purchase that parks until
// released, so teardown can race an in-flight request deterministically.
type blockingStore struct {
	*store.Memory
	release chan struct{}
}

func (s *blockingStore) Purchase(ctx context.Context, req *entity.NativePurchaseRequest) ([]*entity.Purchase, error) {
	<-s.release
	return s.Memory.Purchase(ctx, req)
}

func TestEndConnection_RejectsInFlightPurchases(t *testing.T) {
	blocking := &blockingStore{Memory: store.NewMemory(), release: make(chan struct{})}
	b := bridge.New(blocking, bridge.Options{})
	t.Cleanup(b.Close)
	defer close(blocking.release)

	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	errs := make(chan error, 1)
	go func() {
		_, err := b.RequestPurchase(ctx, &entity.PurchaseParams{
			IOS: &entity.IOSPurchaseParams{SKU: "com.app.premium"},
		})
		errs <- err
	}()

	// Let the request reach the pending registry before tearing down.
	require.Eventually(t, func() bool {
		return b.State() == bridge.StateReady
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.EndConnection(ctx))

	select {
	case err := <-errs:
		var perr *apperrors.PurchaseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, apperrors.CodeConnectionClosed, perr.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("pending purchase was not rejected on teardown")
	}
	assert.Equal(t, 0, b.BufferedEventCount())
}

func TestListenerHandle_RemoveIsIdempotent(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	rec := newEventRecorder()
	handle := b.OnPurchaseUpdated(rec.onUpdate)
	handle.Remove()
	handle.Remove()

	mem.EmitPurchaseUpdated(&entity.Purchase{ID: "tx-unseen"})

	// Give the dispatcher a beat; nothing should arrive.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.purchaseIDs())
}

func TestGetActiveSubscriptions_EmptyOnFetchFailure(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	mem.FailAvailablePurchases(errors.New("store backend down"))

	subs := b.GetActiveSubscriptions(ctx, entity.AvailablePurchasesOptions{}, nil)
	require.NotNil(t, subs)
	assert.Empty(t, subs)
	assert.False(t, b.HasActiveSubscriptions(ctx, entity.AvailablePurchasesOptions{}, nil))
}

func TestGetActiveSubscriptions_DerivedFromEntitlements(t *testing.T) {
	b, _ := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	_, err := b.RequestPurchase(ctx, &entity.PurchaseParams{
		Type: "subs",
		IOS:  &entity.IOSPurchaseParams{SKU: "com.app.premium.monthly"},
	})
	require.NoError(t, err)

	subs := b.GetActiveSubscriptions(ctx, entity.AvailablePurchasesOptions{}, nil)
	require.Len(t, subs, 1)
	assert.Equal(t, "com.app.premium.monthly", subs[0].ProductID)
	assert.True(t, subs[0].IsActive)
	assert.True(t, b.HasActiveSubscriptions(ctx, entity.AvailablePurchasesOptions{}, []string{"com.app.premium.monthly"}))
	assert.False(t, b.HasActiveSubscriptions(ctx, entity.AvailablePurchasesOptions{}, []string{"com.app.other"}))
}

func TestFetchProducts(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()

	mem.AddProduct(&entity.Product{ID: "com.app.coins", Type: valueobject.ProductTypeInApp})
	mem.AddProduct(&entity.Product{ID: "com.app.premium", Type: valueobject.ProductTypeSubs})

	t.Run("requires ready connection", func(t *testing.T) {
		_, err := b.FetchProducts(ctx, entity.ProductRequest{SKUs: []string{"com.app.coins"}})
		var perr *apperrors.PurchaseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, apperrors.CodeNotReady, perr.Code)
	})

	require.NoError(t, b.InitConnection(ctx))

	t.Run("empty sku list is a validation error", func(t *testing.T) {
		_, err := b.FetchProducts(ctx, entity.ProductRequest{})
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("filters by type and drops unknown skus", func(t *testing.T) {
		products, err := b.FetchProducts(ctx, entity.ProductRequest{
			SKUs: []string{"com.app.coins", "com.app.premium", "com.app.missing"},
			Type: valueobject.ProductTypeSubs,
		})
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "com.app.premium", products[0].ID)
	})

	t.Run("all matches everything", func(t *testing.T) {
		products, err := b.FetchProducts(ctx, entity.ProductRequest{
			SKUs: []string{"com.app.coins", "com.app.premium"},
			Type: valueobject.ProductTypeAll,
		})
		require.NoError(t, err)
		assert.Len(t, products, 2)
	})
}

func TestFinishTransaction_AndroidConsume(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	purchases, err := b.RequestPurchase(ctx, &entity.PurchaseParams{
		Type:    "inapp",
		Android: &entity.AndroidPurchaseParams{SKUs: []string{"sku_coins"}},
	})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	token := purchases[0].PurchaseTokenAndroid
	require.NotEmpty(t, token)

	require.NoError(t, b.FinishTransaction(ctx, purchases[0], true))
	assert.True(t, mem.Consumed(token))

	// Consumed entitlements drop out of the snapshot.
	available, err := b.GetAvailablePurchases(ctx, entity.AvailablePurchasesOptions{})
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestAcknowledgePurchaseAndroid(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	t.Run("missing token is a validation error", func(t *testing.T) {
		err := b.AcknowledgePurchaseAndroid(ctx, "sku_x", "", false)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("acknowledges through the store", func(t *testing.T) {
		require.NoError(t, b.AcknowledgePurchaseAndroid(ctx, "sku_x", "token-1", true))
		assert.True(t, mem.Acknowledged("token-1"))
	})
}

func TestGetStorefront(t *testing.T) {
	b, mem := newTestBridge(t, bridge.Options{})
	ctx := context.Background()
	require.NoError(t, b.InitConnection(ctx))

	mem.SetStorefront("DEU")
	code, err := b.GetStorefront(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DEU", code)
}

func TestDeepLinkToSubscriptions(t *testing.T) {
	b, _ := newTestBridge(t, bridge.Options{})
	assert.Equal(t, "memory://subscriptions?sku=com.app.premium",
		b.DeepLinkToSubscriptions("com.app.premium"))
}
