package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

const tokenRefreshLeeway = 30 * time.Second

// shiprocket tokens are valid for ten days; refresh well before that.
const shiprocketTokenTTL = 9 * 24 * time.Hour

// APIError is a non-2xx carrier response. Only 5xx responses are worth
// retrying.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shiprocket API status %d: %s", e.Status, e.Body)
}

func isRetryableCarrierError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Network-level failures are retryable.
	return true
}

// ShiprocketClient wraps the carrier API. The auth token is cached on the
// client with a double-checked mutex so concurrent callers share one
// refresh, and all outbound calls pass through a circuit breaker.
type ShiprocketClient struct {
	baseURL        string
	email          string
	password       string
	pickupLocation string

	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	retry   RetryPolicy

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewShiprocketClient(baseURL, email, password, pickupLocation string) *ShiprocketClient {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "shiprocket",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &ShiprocketClient{
		baseURL:        baseURL,
		email:          email,
		password:       password,
		pickupLocation: pickupLocation,
		client:         &http.Client{Timeout: 20 * time.Second},
		breaker:        breaker,
		retry: RetryPolicy{
			MaxAttempts: 3,
			Backoff:     LinearBackoff(time.Second),
			Retryable:   isRetryableCarrierError,
		},
	}
}

type shiprocketAuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type shiprocketAuthResponse struct {
	Token string `json:"token"`
}

// Login fetches a fresh token, bypassing the cache.
func (c *ShiprocketClient) Login(ctx context.Context) (string, error) {
	var token string
	err := c.retry.Do("shiprocket login", func() error {
		body, err := c.execute(ctx, http.MethodPost, "/auth/login", shiprocketAuthRequest{
			Email:    c.email,
			Password: c.password,
		}, "")
		if err != nil {
			return err
		}
		var resp shiprocketAuthResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("unmarshal login response: %w", err)
		}
		if resp.Token == "" {
			return errors.New("login response missing token")
		}
		token = resp.Token
		return nil
	})
	return token, err
}

func (c *ShiprocketClient) getToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.token != "" && time.Now().Add(tokenRefreshLeeway).Before(c.tokenExpiry) {
		return c.token, nil
	}

	token, err := c.Login(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	c.tokenExpiry = time.Now().Add(shiprocketTokenTTL)
	return token, nil
}

// execute performs one HTTP call through the circuit breaker.
func (c *ShiprocketClient) execute(ctx context.Context, method, path string, payload any, token string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var bodyReader io.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	})
}

// call performs an authenticated request, refreshing the token once on
// 401.
func (c *ShiprocketClient) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	token, err := c.getToken(ctx, false)
	if err != nil {
		return nil, err
	}

	body, err := c.execute(ctx, method, path, payload, token)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		token, err = c.getToken(ctx, true)
		if err != nil {
			return nil, err
		}
		return c.execute(ctx, method, path, payload, token)
	}
	return body, err
}

// ShipmentItem is one line of a carrier booking.
type ShipmentItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// CreateShipmentRequest carries everything the carrier needs to book.
type CreateShipmentRequest struct {
	OrderNumber       string         `json:"order_id"`
	OrderDate         string         `json:"order_date"`
	PickupLocation    string         `json:"pickup_location"`
	BillingName       string         `json:"billing_customer_name"`
	BillingAddress    string         `json:"billing_address"`
	BillingCity       string         `json:"billing_city"`
	BillingState      string         `json:"billing_state"`
	BillingPincode    string         `json:"billing_pincode"`
	BillingCountry    string         `json:"billing_country"`
	BillingEmail      string         `json:"billing_email"`
	BillingPhone      string         `json:"billing_phone"`
	ShippingIsBilling bool           `json:"shipping_is_billing"`
	Items             []ShipmentItem `json:"order_items"`
	PaymentMethod     string         `json:"payment_method"`
	SubTotal          float64        `json:"sub_total"`
	LengthCM          float64        `json:"length"`
	WidthCM           float64        `json:"breadth"`
	HeightCM          float64        `json:"height"`
	WeightKG          float64        `json:"weight"`
}

// Shipment is the carrier's booking handle.
type Shipment struct {
	ShipmentID     string
	CarrierOrderID string
}

type createShipmentResponse struct {
	OrderID    json.Number `json:"order_id"`
	ShipmentID json.Number `json:"shipment_id"`
	Status     string      `json:"status"`
}

// CreateShipment books a shipment. Never retried at this level: a
// duplicate call would create a duplicate booking.
func (c *ShiprocketClient) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*Shipment, error) {
	if req.PickupLocation == "" {
		req.PickupLocation = c.pickupLocation
	}

	body, err := c.call(ctx, http.MethodPost, "/orders/create/adhoc", req)
	if err != nil {
		return nil, err
	}

	var resp createShipmentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal create shipment response: %w", err)
	}
	if resp.ShipmentID.String() == "" {
		return nil, errors.New("create shipment response missing shipment_id")
	}

	return &Shipment{
		ShipmentID:     resp.ShipmentID.String(),
		CarrierOrderID: resp.OrderID.String(),
	}, nil
}

type assignAWBResponse struct {
	Response struct {
		Data struct {
			AWBCode string `json:"awb_code"`
		} `json:"data"`
	} `json:"response"`
}

// AssignAWB requests a tracking number for an existing shipment. The
// bounded retry loop lives in the shipment engine, not here.
func (c *ShiprocketClient) AssignAWB(ctx context.Context, shipmentID string) (string, error) {
	body, err := c.call(ctx, http.MethodPost, "/courier/assign/awb", map[string]any{
		"shipment_id": shipmentID,
	})
	if err != nil {
		return "", err
	}

	var resp assignAWBResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal assign AWB response: %w", err)
	}
	if resp.Response.Data.AWBCode == "" {
		return "", errors.New("assign AWB response missing awb_code")
	}
	return resp.Response.Data.AWBCode, nil
}

type labelResponse struct {
	LabelCreated int    `json:"label_created"`
	LabelURL     string `json:"label_url"`
}

// GenerateLabel renders the shipping label and returns its URL.
func (c *ShiprocketClient) GenerateLabel(ctx context.Context, shipmentID string) (string, error) {
	body, err := c.call(ctx, http.MethodPost, "/courier/generate/label", map[string]any{
		"shipment_id": []string{shipmentID},
	})
	if err != nil {
		return "", err
	}

	var resp labelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal label response: %w", err)
	}
	if resp.LabelURL == "" {
		return "", errors.New("label response missing label_url")
	}
	return resp.LabelURL, nil
}

type pickupResponse struct {
	PickupStatus    int    `json:"pickup_status"`
	PickupScheduled string `json:"pickup_scheduled_date"`
}

// SchedulePickup books the courier pickup slot.
func (c *ShiprocketClient) SchedulePickup(ctx context.Context, shipmentID string) (*time.Time, error) {
	body, err := c.call(ctx, http.MethodPost, "/courier/generate/pickup", map[string]any{
		"shipment_id": []string{shipmentID},
	})
	if err != nil {
		return nil, err
	}

	var resp pickupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal pickup response: %w", err)
	}

	if resp.PickupScheduled != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", resp.PickupScheduled); err == nil {
			return &t, nil
		}
	}
	now := time.Now()
	return &now, nil
}

type manifestResponse struct {
	ManifestURL string `json:"manifest_url"`
}

// GenerateManifest produces the batch paperwork for a shipment.
func (c *ShiprocketClient) GenerateManifest(ctx context.Context, shipmentID string) (string, error) {
	body, err := c.call(ctx, http.MethodPost, "/manifests/generate", map[string]any{
		"shipment_id": []string{shipmentID},
	})
	if err != nil {
		return "", err
	}

	var resp manifestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal manifest response: %w", err)
	}
	if resp.ManifestURL == "" {
		return "", errors.New("manifest response missing manifest_url")
	}
	return resp.ManifestURL, nil
}

type serviceabilityResponse struct {
	Data struct {
		AvailableCourierCompanies []struct {
			Rate float64 `json:"rate"`
		} `json:"available_courier_companies"`
	} `json:"data"`
}

// GetShippingRate fetches the cheapest available courier rate between two
// pincodes for the given weight.
func (c *ShiprocketClient) GetShippingRate(ctx context.Context, pickupPincode, deliveryPincode string, weightKG float64) (float64, error) {
	query := url.Values{}
	query.Set("pickup_postcode", pickupPincode)
	query.Set("delivery_postcode", deliveryPincode)
	query.Set("weight", strconv.FormatFloat(weightKG, 'f', 2, 64))
	query.Set("cod", "0")

	var cheapest float64
	err := c.retry.Do("shiprocket rate fetch", func() error {
		body, err := c.call(ctx, http.MethodGet, "/courier/serviceability/?"+query.Encode(), nil)
		if err != nil {
			return err
		}

		var resp serviceabilityResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("unmarshal serviceability response: %w", err)
		}
		if len(resp.Data.AvailableCourierCompanies) == 0 {
			return errors.New("no couriers available for route")
		}

		cheapest = resp.Data.AvailableCourierCompanies[0].Rate
		for _, courier := range resp.Data.AvailableCourierCompanies[1:] {
			if courier.Rate < cheapest {
				cheapest = courier.Rate
			}
		}
		return nil
	})
	return cheapest, err
}
