package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/models"
	"storefront/internal/ratelimit"
)

type staticFeed struct {
	items []FeedItem
	err   error

	lastMerchantID string
}

func (f *staticFeed) ProductFeed(r *http.Request, merchantID string) ([]FeedItem, error) {
	f.lastMerchantID = merchantID
	return f.items, f.err
}

func TestExportProductFeed_EmptyWithoutProvider(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	rr := httptest.NewRecorder()
	handlers.ExportProductFeed(rr, httptest.NewRequest("GET", "/api/v1/feed/products", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp feedResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Products)
	assert.Empty(t, resp.Products)
}

func TestExportProductFeed_WithProvider(t *testing.T) {
	handlers, _ := newTestHandlers(t)
	feed := &staticFeed{items: []FeedItem{
		{SKU: "SKU-1", Title: "Mechanical Keyboard", Price: 129.99, Currency: "USD", InStock: true},
		{SKU: "SKU-2", Title: "Trackball", Price: 59.00, Currency: "USD", InStock: false},
	}}
	handlers.SetFeedProvider(feed)

	rr := httptest.NewRecorder()
	handlers.ExportProductFeed(rr, httptest.NewRequest("GET", "/api/v1/feed/products?merchant_id=merchant-9", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "merchant-9", feed.lastMerchantID)

	var resp feedResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "merchant-9", resp.MerchantID)
	assert.Equal(t, "SKU-1", resp.Products[0].SKU)
}

func TestExportProductFeed_KeyedRequestScopedToKeyMerchant(t *testing.T) {
	handlers, store := newTestHandlers(t)
	feed := &staticFeed{}
	handlers.SetFeedProvider(feed)
	_, key := createStoredKey(t, store, []string{"read"}, true)

	// The key's merchant wins over the query parameter.
	r := httptest.NewRequest("GET", "/api/v1/feed/products?merchant_id=someone-else", nil)
	r = r.WithContext(ratelimit.ContextWithAPIKey(r.Context(), key))
	handlers.ExportProductFeed(httptest.NewRecorder(), r)

	assert.Equal(t, key.MerchantID, feed.lastMerchantID)
}

func TestReceiveWebhook(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	body := strings.NewReader(`{"type":"payment.settled","order_id":"ord_123"}`)
	r := httptest.NewRequest("POST", "/api/v1/webhooks/stripe", body)
	r = mux.SetURLVars(r, map[string]string{"provider": "stripe"})
	rr := httptest.NewRecorder()
	handlers.ReceiveWebhook(rr, r)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var ack webhookAck
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&ack))
	assert.Equal(t, "stripe", ack.Provider)
	assert.NotEmpty(t, ack.DeliveryID)
}

func TestReceiveWebhook_RejectsBadBody(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	r := httptest.NewRequest("POST", "/api/v1/webhooks/stripe", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	handlers.ReceiveWebhook(rr, r)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, models.ErrorCodeBadRequest, errResp.Code)
}
