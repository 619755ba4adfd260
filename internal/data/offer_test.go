package data

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// offerFixture builds a create-cart response the way the API nests it.
func offerFixture(t *testing.T, resID string, expiry any) []byte {
	t.Helper()
	postBody := mustJSON(t, map[string]any{
		"cart_id": "cart-77",
		"context": map[string]any{
			"cart_modification": map[string]any{
				"ParentOrderID":        "po-1",
				"ParentCartID":         "pc-1",
				"CartModificationType": "FOOD_RESCUE",
			},
			"cart_analytics_data": map[string]any{
				"number_of_people_watching": "4",
				"cart_expiry_timestamp":     expiry,
			},
		},
	})
	tracking := mustJSON(t, map[string]any{
		"value": map[string]any{"cart_final_cost": 149.5, "catalog_total_cost": 420},
	})
	resp := map[string]any{
		"floating_timer_view_1": map[string]any{
			"click_action": map[string]any{
				"open_food_rescue_bottom_sheet": map[string]any{
					"results": []any{map[string]any{
						"timer_snippet_type_4": map[string]any{
							"button": map[string]any{"click_action": map[string]any{"deeplink": map[string]any{
								"url":       "zomato://cart?res_id=" + resID + "&source=rescue",
								"post_body": postBody,
							}}},
							"timer_container_data": map[string]any{"timer_complete_action": map[string]any{
								"show_snippet_popup": map[string]any{"snippets": []any{map[string]any{
									"image_text_snippet_type_43": map[string]any{"items": []any{map[string]any{
										"tracking_data": []any{map[string]any{"payload": tracking}},
									}}},
								}}},
							}},
						},
					}},
				},
			},
		},
	}
	return []byte(mustJSON(t, resp))
}

func testLocation() domain.Location {
	lat, lng := 12.5, 77.25
	return domain.Location{Name: "Home", AddressID: 99, CellID: "cell-1", EntityType: "subzone", Lat: &lat, Lng: &lng}
}

func TestParseOffer(t *testing.T) {
	offer, err := parseOffer(offerFixture(t, "18744356", "1700000300"))
	require.NoError(t, err)
	require.NotNil(t, offer)

	assert.Equal(t, "18744356", offer.TargetID)
	assert.Equal(t, "cart-77", offer.CartID)
	assert.Equal(t, 149.5, offer.FinalCost)
	require.NotNil(t, offer.CatalogCost)
	assert.Equal(t, 420.0, *offer.CatalogCost)
	assert.Equal(t, 4, offer.ViewerCount)
	assert.Equal(t, "po-1", offer.ParentOrderID)
	assert.Equal(t, "FOOD_RESCUE", offer.ModificationType)
	assert.True(t, offer.ExpiresAt.Equal(time.Unix(1700000300, 0)))
}

func TestParseOfferMillisecondExpiry(t *testing.T) {
	offer, err := parseOffer(offerFixture(t, "1", 1700000300123))
	require.NoError(t, err)
	assert.True(t, offer.ExpiresAt.Equal(time.UnixMilli(1700000300123)))
}

func TestParseOfferAbsent(t *testing.T) {
	offer, err := parseOffer([]byte(`{"status":"success"}`))
	require.NoError(t, err)
	assert.Nil(t, offer)

	offer, err = parseOffer([]byte(`{"floating_timer_view_1":{"click_action":{"open_food_rescue_bottom_sheet":{"results":[]}}}}`))
	require.NoError(t, err)
	assert.Nil(t, offer)
}

func TestParseOfferMissingResID(t *testing.T) {
	_, err := parseOffer(offerFixture(t, "", "0"))
	assert.Error(t, err)
}

func TestFetchOfferRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fetchOfferPath, r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("X-Zomato-Access-Token"))
		assert.Equal(t, "4", r.Header.Get("X-City-Id"))
		assert.Equal(t, "4", r.Header.Get("X-O2-City-Id"))
		assert.Equal(t, "12.5", r.Header.Get("X-User-Defined-Lat"))
		assert.Equal(t, "77.25", r.Header.Get("X-User-Defined-Long"))
		assert.Equal(t, "v1", r.Header.Get("X-Extra"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		loc := body["location"].(map[string]any)
		assert.Equal(t, "PLACE", loc["place_type"])
		assert.Equal(t, "99", loc["address_id"])
		assert.Equal(t, "4", loc["city_id"])

		w.Write(offerFixture(t, "555", "0"))
	}))
	defer srv.Close()

	api := NewAPIClient(APIConfig{BaseURL: srv.URL, Headers: map[string]string{"X-Extra": "v1"}}, zap.NewNop())
	offer, err := NewOfferRepo(api).FetchOffer(context.Background(), testLocation(), domain.SubscriptionConfig{CityID: 4}, "tok")
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, "555", offer.TargetID)
	assert.True(t, offer.ExpiresAt.IsZero())
}

func TestFetchOfferHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	api := NewAPIClient(APIConfig{BaseURL: srv.URL}, zap.NewNop())
	offer, err := NewOfferRepo(api).FetchOffer(context.Background(), testLocation(), domain.SubscriptionConfig{}, "tok")
	assert.Error(t, err)
	assert.Nil(t, offer)
}

func TestCommitOfferStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   domain.CommitResult
	}{
		{http.StatusOK, domain.CommitSuccess},
		{http.StatusCreated, domain.CommitSuccess},
		{http.StatusConflict, domain.CommitConflict},
		{http.StatusGone, domain.CommitConflict},
		{http.StatusUnprocessableEntity, domain.CommitConflict},
		{http.StatusBadRequest, domain.CommitFailure},
		{http.StatusServiceUnavailable, domain.CommitFailure},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{}`)
			}))
			defer srv.Close()

			api := NewAPIClient(APIConfig{BaseURL: srv.URL, CustomerID: "1001"}, zap.NewNop())
			offer := &domain.ClaimOffer{TargetID: "555", CartID: "cart-1"}
			got, err := NewOfferRepo(api).CommitOffer(context.Background(), offer, testLocation(), domain.SubscriptionConfig{CityID: 4}, "tok")
			assert.Equal(t, tt.want, got)
			if tt.want == domain.CommitSuccess {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCommitOfferPayload(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, commitOfferPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		io.WriteString(w, `{"status":"success"}`)
	}))
	defer srv.Close()

	api := NewAPIClient(APIConfig{BaseURL: srv.URL, CustomerID: "1001"}, zap.NewNop())
	offer := &domain.ClaimOffer{
		TargetID: "555", CartID: "cart-1", ViewerCount: 3,
		ParentOrderID: "po", ParentCartID: "pc", ModificationType: "FOOD_RESCUE",
		ExpiresAt: time.Unix(1700000300, 0),
	}
	got, err := NewOfferRepo(api).CommitOffer(context.Background(), offer, testLocation(), domain.SubscriptionConfig{CityID: 4}, "tok")
	require.NoError(t, err)
	assert.Equal(t, domain.CommitSuccess, got)

	assert.Equal(t, "cart-1", body["cart_id"])
	assert.Equal(t, "initial", body["request_type"])
	assert.Equal(t, "bottom_sheet_cart", body["view_type"])
	catalog := body["catalog"].([]any)[0].(map[string]any)
	assert.Equal(t, 555.0, catalog["store"].(map[string]any)["store_id"])
	loc := body["location"].(map[string]any)
	assert.Equal(t, 1.0, loc["country_id"])
	assert.Equal(t, false, loc["is_gps_enabled"])
	assert.Equal(t, 4.0, loc["city_id"])
	assert.Equal(t, 1001.0, body["customer"].(map[string]any)["id"])
	analytics := body["context"].(map[string]any)["cart_analytics_data"].(map[string]any)
	assert.Equal(t, "3", analytics["number_of_people_watching"])
	assert.Equal(t, "1700000300", analytics["cart_expiry_timestamp"])
}

func TestCommitOfferEchoesAnalytics(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		io.WriteString(w, `{"status":"success"}`)
	}))
	defer srv.Close()

	offer, err := parseOffer(offerFixture(t, "555", 1700000300123))
	require.NoError(t, err)
	require.NotNil(t, offer)

	api := NewAPIClient(APIConfig{BaseURL: srv.URL, CustomerID: "1001"}, zap.NewNop())
	got, err := NewOfferRepo(api).CommitOffer(context.Background(), offer, testLocation(), domain.SubscriptionConfig{CityID: 4}, "tok")
	require.NoError(t, err)
	assert.Equal(t, domain.CommitSuccess, got)

	analytics := body["context"].(map[string]any)["cart_analytics_data"].(map[string]any)
	assert.Equal(t, "1700000300123", analytics["cart_expiry_timestamp"])
	assert.Equal(t, "4", analytics["number_of_people_watching"])
}

func TestCommitOfferInvalidIDs(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	repo := NewOfferRepo(NewAPIClient(APIConfig{BaseURL: srv.URL, CustomerID: "1001"}, zap.NewNop()))
	got, err := repo.CommitOffer(context.Background(), &domain.ClaimOffer{TargetID: "abc"}, testLocation(), domain.SubscriptionConfig{}, "tok")
	assert.Equal(t, domain.CommitFailure, got)
	assert.Error(t, err)

	repo = NewOfferRepo(NewAPIClient(APIConfig{BaseURL: srv.URL, CustomerID: "me"}, zap.NewNop()))
	got, err = repo.CommitOffer(context.Background(), &domain.ClaimOffer{TargetID: "555"}, testLocation(), domain.SubscriptionConfig{}, "tok")
	assert.Equal(t, domain.CommitFailure, got)
	assert.Error(t, err)
	assert.False(t, called)
}

func TestCommitOfferContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	repo := NewOfferRepo(NewAPIClient(APIConfig{BaseURL: srv.URL, CustomerID: "1"}, zap.NewNop()))
	got, err := repo.CommitOffer(ctx, &domain.ClaimOffer{TargetID: "5"}, testLocation(), domain.SubscriptionConfig{}, "tok")
	assert.Equal(t, domain.CommitFailure, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
