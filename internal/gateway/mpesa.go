package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Daraja STK push client. Initiate does an OAuth token fetch (cached until
// expiry) followed by the stkpush call.
type MpesaGateway struct {
	BaseURL        string
	ShortCode      string
	Passkey        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	HTTP *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewMpesaGateway(baseURL, shortCode, passkey, key, secret, callbackURL string) *MpesaGateway {
	return &MpesaGateway{
		BaseURL:        baseURL,
		ShortCode:      shortCode,
		Passkey:        passkey,
		ConsumerKey:    key,
		ConsumerSecret: secret,
		CallbackURL:    callbackURL,
		HTTP:           &http.Client{Timeout: 30 * time.Second},
	}
}

// Safaricom MSISDN: 2547XXXXXXXX or 2541XXXXXXXX.
var phoneRe = regexp.MustCompile(`^254[17]\d{8}$`)

func (g *MpesaGateway) Initiate(ctx context.Context, amount int64, phone, accountRef string) (InitiateResult, error) {
	if amount <= 0 {
		return InitiateResult{}, ErrInvalidAmount
	}
	if !phoneRe.MatchString(phone) {
		return InitiateResult{}, ErrInvalidPhone
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return InitiateResult{}, err
	}

	ts := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(g.ShortCode + g.Passkey + ts))

	payload := map[string]any{
		"BusinessShortCode": g.ShortCode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            g.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       g.CallbackURL,
		"AccountReference":  accountRef,
		"TransactionDesc":   "Contribution",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return InitiateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return InitiateResult{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var out struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		ErrorMessage        string `json:"errorMessage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InitiateResult{}, fmt.Errorf("%w: decode: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK || out.ResponseCode != "0" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = out.ErrorMessage
		}
		return InitiateResult{}, fmt.Errorf("%w: %s", ErrGatewayRejected, msg)
	}
	return InitiateResult{CheckoutRef: out.CheckoutRequestID, MerchantRequestID: out.MerchantRequestID}, nil
}

func (g *MpesaGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && time.Now().Before(g.tokenExp) {
		return g.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.ConsumerKey, g.ConsumerSecret)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: oauth status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: oauth decode: %v", ErrGatewayUnavailable, err)
	}
	ttl := 3600
	if n, err := strconv.Atoi(out.ExpiresIn); err == nil && n > 0 {
		ttl = n
	}
	g.token = out.AccessToken
	// renew a minute early
	g.tokenExp = time.Now().Add(time.Duration(ttl-60) * time.Second)
	return g.token, nil
}

// stkCallbackEnvelope is the provider's webhook shape. CallbackMetadata is
// only present on success.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (g *MpesaGateway) ParseCallback(body []byte) (Callback, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Callback{}, fmt.Errorf("parse callback: %w", err)
	}
	sc := env.Body.StkCallback
	if sc.CheckoutRequestID == "" {
		return Callback{}, fmt.Errorf("parse callback: missing CheckoutRequestID")
	}

	cb := Callback{
		MerchantRequestID: sc.MerchantRequestID,
		CheckoutRef:       sc.CheckoutRequestID,
		ResultCode:        sc.ResultCode,
		ResultDesc:        sc.ResultDesc,
	}
	for _, item := range sc.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			var f float64
			if err := json.Unmarshal(item.Value, &f); err == nil {
				cb.Amount = int64(f)
			}
		case "MpesaReceiptNumber":
			_ = json.Unmarshal(item.Value, &cb.ReceiptNo)
		case "PhoneNumber":
			var n json.Number
			if err := json.Unmarshal(item.Value, &n); err == nil {
				cb.Phone = n.String()
			} else {
				_ = json.Unmarshal(item.Value, &cb.Phone)
			}
		case "TransactionDate":
			var n json.Number
			if err := json.Unmarshal(item.Value, &n); err == nil {
				cb.TransactionDate = n.String()
			}
		default:
			slog.Debug("callback metadata ignored", "name", item.Name)
		}
	}
	return cb, nil
}

// ReadCallbackBody caps the webhook body size; provider payloads are small.
func ReadCallbackBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 64<<10))
}
