package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

const (
	fetchOfferPath  = "/gw/gamification/food-rescue/create-cart"
	commitOfferPath = "/gw/cart/create"
)

// offerRepo implements the two-phase claim API
type offerRepo struct {
	api *APIClient
}

// NewOfferRepo creates a new offer repository
func NewOfferRepo(api *APIClient) repo.OfferRepo {
	return &offerRepo{api: api}
}

type offerLocation struct {
	EntityType    string   `json:"entity_type"`
	Lng           *float64 `json:"lng"`
	PlaceType     string   `json:"place_type"`
	AddressID     string   `json:"address_id"`
	EntityID      *string  `json:"entity_id"`
	CellID        string   `json:"cell_id"`
	PlaceID       string   `json:"place_id"`
	Lat           *float64 `json:"lat"`
	CurrentCityID string   `json:"current_city_id"`
	CityID        string   `json:"city_id"`
}

type fetchOfferRequest struct {
	Identifier []string      `json:"identifier"`
	Location   offerLocation `json:"location"`
}

// fetchOfferResponse mirrors the nested create-cart response down to the
// deeplink and the cost tracking payload.
type fetchOfferResponse struct {
	FloatingTimer *struct {
		ClickAction struct {
			BottomSheet struct {
				Results []struct {
					Timer *timerSnippet `json:"timer_snippet_type_4"`
				} `json:"results"`
			} `json:"open_food_rescue_bottom_sheet"`
		} `json:"click_action"`
	} `json:"floating_timer_view_1"`
}

type timerSnippet struct {
	Button struct {
		ClickAction struct {
			Deeplink struct {
				URL      string `json:"url"`
				PostBody string `json:"post_body"`
			} `json:"deeplink"`
		} `json:"click_action"`
	} `json:"button"`
	TimerContainer struct {
		CompleteAction struct {
			Popup struct {
				Snippets []costSnippet `json:"snippets"`
			} `json:"show_snippet_popup"`
		} `json:"timer_complete_action"`
	} `json:"timer_container_data"`
}

type costSnippet struct {
	ImageText struct {
		Items []struct {
			TrackingData []struct {
				Payload string `json:"payload"`
			} `json:"tracking_data"`
		} `json:"items"`
	} `json:"image_text_snippet_type_43"`
}

type cartModification struct {
	ParentOrderID        string `json:"ParentOrderID"`
	ParentCartID         string `json:"ParentCartID"`
	CartModificationType string `json:"CartModificationType"`
}

type cartAnalytics struct {
	Watching flexString `json:"number_of_people_watching"`
	Expiry   flexString `json:"cart_expiry_timestamp"`
}

type offerPostBody struct {
	CartID  flexString `json:"cart_id"`
	Context struct {
		Modification cartModification `json:"cart_modification"`
		Analytics    cartAnalytics    `json:"cart_analytics_data"`
	} `json:"context"`
}

type trackingPayload struct {
	Value struct {
		FinalCost   *float64 `json:"cart_final_cost"`
		CatalogCost *float64 `json:"catalog_total_cost"`
	} `json:"value"`
}

// FetchOffer asks for the cart offer behind the latest cancellation.
func (r *offerRepo) FetchOffer(ctx context.Context, loc domain.Location, sub domain.SubscriptionConfig, token string) (*domain.ClaimOffer, error) {
	city := strconv.Itoa(sub.CityID)
	req := fetchOfferRequest{
		Identifier: []string{},
		Location: offerLocation{
			EntityType:    loc.EntityType,
			Lng:           loc.Lng,
			PlaceType:     loc.ResolvedPlaceType(),
			AddressID:     strconv.Itoa(loc.AddressID),
			CellID:        loc.CellID,
			PlaceID:       loc.PlaceID,
			Lat:           loc.Lat,
			CurrentCityID: city,
			CityID:        city,
		},
	}
	if loc.EntityID != nil {
		id := strconv.Itoa(*loc.EntityID)
		req.Location.EntityID = &id
	}

	resp, err := r.api.do(ctx, http.MethodPost, fetchOfferPath, nil, req, token, locationHeaders(loc, sub.CityID))
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("fetch offer: HTTP %d", resp.status)
	}
	return parseOffer(resp.body)
}

// parseOffer extracts the offer. A response without an offer section yields
// nil; a partial one is an error.
func parseOffer(body []byte) (*domain.ClaimOffer, error) {
	var resp fetchOfferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if resp.FloatingTimer == nil || len(resp.FloatingTimer.ClickAction.BottomSheet.Results) == 0 {
		return nil, nil
	}
	timer := resp.FloatingTimer.ClickAction.BottomSheet.Results[0].Timer
	if timer == nil {
		return nil, nil
	}

	deeplink := timer.Button.ClickAction.Deeplink
	u, err := url.Parse(deeplink.URL)
	if err != nil {
		return nil, fmt.Errorf("parse deeplink: %w", err)
	}
	targetID := u.Query().Get("res_id")
	if targetID == "" {
		return nil, errors.New("missing res_id in deeplink url")
	}

	var post offerPostBody
	if err := json.Unmarshal([]byte(deeplink.PostBody), &post); err != nil {
		return nil, fmt.Errorf("decode post_body: %w", err)
	}
	if post.CartID == "" {
		return nil, errors.New("missing cart_id in post_body")
	}

	offer := &domain.ClaimOffer{
		TargetID:         targetID,
		CartID:           string(post.CartID),
		ParentOrderID:    post.Context.Modification.ParentOrderID,
		ParentCartID:     post.Context.Modification.ParentCartID,
		ModificationType: post.Context.Modification.CartModificationType,
		Analytics: domain.OfferAnalytics{
			Watching: string(post.Context.Analytics.Watching),
			Expiry:   string(post.Context.Analytics.Expiry),
		},
	}
	if w := string(post.Context.Analytics.Watching); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("parse viewer count %q: %w", w, err)
		}
		offer.ViewerCount = n
	}
	if e := string(post.Context.Analytics.Expiry); e != "" {
		ts, err := strconv.ParseInt(e, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse expiry %q: %w", e, err)
		}
		offer.ExpiresAt = unixTime(ts)
	}

	tracking, err := firstTrackingPayload(timer.TimerContainer.CompleteAction.Popup.Snippets)
	if err != nil {
		return nil, err
	}
	var cost trackingPayload
	if err := json.Unmarshal([]byte(tracking), &cost); err != nil {
		return nil, fmt.Errorf("decode tracking payload: %w", err)
	}
	if cost.Value.FinalCost == nil {
		return nil, errors.New("missing cart_final_cost")
	}
	offer.FinalCost = *cost.Value.FinalCost
	if cost.Value.CatalogCost != nil && *cost.Value.CatalogCost >= 0 {
		offer.CatalogCost = cost.Value.CatalogCost
	}
	return offer, nil
}

func firstTrackingPayload(snippets []costSnippet) (string, error) {
	if len(snippets) == 0 {
		return "", errors.New("missing cost snippet")
	}
	items := snippets[0].ImageText.Items
	if len(items) == 0 || len(items[0].TrackingData) == 0 {
		return "", errors.New("missing cost tracking payload")
	}
	return items[0].TrackingData[0].Payload, nil
}

type commitStore struct {
	StoreID int `json:"store_id"`
}

type commitCatalog struct {
	AppliedFilterSlugs []string    `json:"applied_filter_slugs"`
	HealthyEnabled     bool        `json:"healthy_enabled"`
	BxgyFullyAvailed   bool        `json:"is_bxgy_offer_fully_availed"`
	Store              commitStore `json:"store"`
}

type commitLocation struct {
	AddressID  int      `json:"address_id"`
	CellID     string   `json:"cell_id"`
	CityID     int      `json:"city_id"`
	CountryID  int      `json:"country_id"`
	GPSEnabled bool     `json:"is_gps_enabled"`
	UserDefLat *float64 `json:"user_defined_latitude"`
	UserDefLng *float64 `json:"user_defined_longitude"`
}

type commitRequest struct {
	PaymentMethodType string          `json:"payment_method_type"`
	CartID            string          `json:"cart_id"`
	PaymentMethodID   string          `json:"payment_method_id"`
	RequestType       string          `json:"request_type"`
	Catalog           []commitCatalog `json:"catalog"`
	Context           struct {
		Modification cartModification `json:"cart_modification"`
		Analytics    struct {
			Watching string `json:"number_of_people_watching"`
			Expiry   string `json:"cart_expiry_timestamp"`
		} `json:"cart_analytics_data"`
	} `json:"context"`
	ViewType string `json:"view_type"`
	Payment  struct {
		PaymentInfo struct{} `json:"payment_info"`
	} `json:"payment"`
	Location           commitLocation `json:"location"`
	Store              struct{}       `json:"store"`
	InitForegroundCall bool           `json:"init_foreground_call"`
	Customer           struct {
		ID int `json:"id"`
	} `json:"customer"`
}

// conflictStatus are the responses meaning someone else claimed the cart.
var conflictStatus = map[int]bool{
	http.StatusConflict:            true,
	http.StatusGone:                true,
	http.StatusPreconditionFailed:  true,
	http.StatusUnprocessableEntity: true,
}

// CommitOffer races to claim the cart. Malformed ids fail the commit
// without a request.
func (r *offerRepo) CommitOffer(ctx context.Context, offer *domain.ClaimOffer, loc domain.Location, sub domain.SubscriptionConfig, token string) (domain.CommitResult, error) {
	req, err := r.buildCommit(offer, loc, sub)
	if err != nil {
		return domain.CommitFailure, err
	}

	resp, err := r.api.do(ctx, http.MethodPost, commitOfferPath, nil, req, token, locationHeaders(loc, sub.CityID))
	if err != nil {
		return domain.CommitFailure, err
	}
	switch {
	case resp.ok():
		return domain.CommitSuccess, nil
	case conflictStatus[resp.status]:
		return domain.CommitConflict, fmt.Errorf("commit: HTTP %d", resp.status)
	default:
		return domain.CommitFailure, fmt.Errorf("commit: HTTP %d", resp.status)
	}
}

func (r *offerRepo) buildCommit(offer *domain.ClaimOffer, loc domain.Location, sub domain.SubscriptionConfig) (*commitRequest, error) {
	storeID, err := strconv.Atoi(offer.TargetID)
	if err != nil {
		return nil, fmt.Errorf("invalid store id %q", offer.TargetID)
	}
	customerID, err := strconv.Atoi(r.api.customerID)
	if err != nil {
		return nil, fmt.Errorf("invalid customer id %q", r.api.customerID)
	}

	req := &commitRequest{
		CartID:      offer.CartID,
		RequestType: "initial",
		Catalog: []commitCatalog{{
			AppliedFilterSlugs: []string{},
			Store:              commitStore{StoreID: storeID},
		}},
		ViewType: "bottom_sheet_cart",
		Location: commitLocation{
			AddressID:  loc.AddressID,
			CellID:     loc.CellID,
			CityID:     sub.CityID,
			CountryID:  1,
			UserDefLat: loc.Lat,
			UserDefLng: loc.Lng,
		},
		InitForegroundCall: true,
	}
	req.Context.Modification = cartModification{
		ParentOrderID:        offer.ParentOrderID,
		ParentCartID:         offer.ParentCartID,
		CartModificationType: offer.ModificationType,
	}
	req.Context.Analytics.Watching = offer.Analytics.Watching
	if req.Context.Analytics.Watching == "" {
		req.Context.Analytics.Watching = strconv.Itoa(offer.ViewerCount)
	}
	req.Context.Analytics.Expiry = offer.Analytics.Expiry
	if req.Context.Analytics.Expiry == "" && !offer.ExpiresAt.IsZero() {
		req.Context.Analytics.Expiry = strconv.FormatInt(offer.ExpiresAt.Unix(), 10)
	}
	req.Customer.ID = customerID
	return req, nil
}
