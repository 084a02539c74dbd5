package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"storefront/internal/models"
)

// FeedItem is one product entry in an exported feed.
type FeedItem struct {
	SKU         string  `json:"sku"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	InStock     bool    `json:"in_stock"`
	ProductURL  string  `json:"product_url,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	Description string  `json:"description,omitempty"`
}

// FeedProvider supplies product feed contents. The catalog service owns the
// actual data; this API tier only gates and serves it.
type FeedProvider interface {
	ProductFeed(r *http.Request, merchantID string) ([]FeedItem, error)
}

// feedResponse is the export envelope for GET /api/v1/feed/products.
type feedResponse struct {
	GeneratedAt time.Time  `json:"generated_at"`
	MerchantID  string     `json:"merchant_id,omitempty"`
	Count       int        `json:"count"`
	Products    []FeedItem `json:"products"`
}

// ExportProductFeed handles feed export requests
// GET /api/v1/feed/products
func (h *Handlers) ExportProductFeed(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	if sc := GetSecurityContext(r); sc != nil && sc.APIKey.MerchantID != "" {
		merchantID = sc.APIKey.MerchantID
	}

	items := []FeedItem{}
	if h.feed != nil {
		var err error
		items, err = h.feed.ProductFeed(r, merchantID)
		if err != nil {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to generate feed")
			return
		}
	}

	h.writeJSONResponse(w, http.StatusOK, feedResponse{
		GeneratedAt: time.Now().UTC(),
		MerchantID:  merchantID,
		Count:       len(items),
		Products:    items,
	})
}

// webhookAck is the intake acknowledgement. Processing happens downstream;
// the API tier only validates, gates, and hands off.
type webhookAck struct {
	DeliveryID string    `json:"delivery_id"`
	Provider   string    `json:"provider"`
	ReceivedAt time.Time `json:"received_at"`
}

// ReceiveWebhook handles inbound webhook deliveries
// POST /api/v1/webhooks/{provider}
func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "invalid JSON body")
		return
	}

	ack := webhookAck{
		DeliveryID: uuid.New().String(),
		Provider:   provider,
		ReceivedAt: time.Now().UTC(),
	}

	slog.Info("webhook received",
		"provider", provider,
		"delivery_id", ack.DeliveryID,
		"event_type", stringField(payload, "type"),
	)

	h.writeJSONResponse(w, http.StatusAccepted, ack)
}

func stringField(payload map[string]interface{}, field string) string {
	if v, ok := payload[field].(string); ok {
		return v
	}
	return ""
}
