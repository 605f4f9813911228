package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vote-match/internal/model"
)

// tokenSlack refreshes the OAuth token this long before it expires.
const tokenSlack = time.Minute

// USPS validates addresses against the USPS Addresses API, one request per
// address. It does not geocode: a validation carries the standardized
// address and delivery-point details, never coordinates.
type USPS struct {
	client
	cfg          USPSConfig
	defaultState string
	now          func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewUSPS creates a USPS address validator.
func NewUSPS(cfg Config, opts ...Option) *USPS {
	def := DefaultConfig().USPS
	c := USPSConfig{
		BaseURL:      strings.TrimRight(orDefault(cfg.USPS.BaseURL, def.BaseURL), "/"),
		ClientID:     cfg.USPS.ClientID,
		ClientSecret: cfg.USPS.ClientSecret,
		DelayMillis:  orDefault(cfg.USPS.DelayMillis, def.DelayMillis),
		TimeoutSecs:  orDefault(cfg.USPS.TimeoutSecs, def.TimeoutSecs),
	}
	return &USPS{
		client:       newClient("usps", time.Duration(c.TimeoutSecs)*time.Second, time.Duration(c.DelayMillis)*time.Millisecond, opts...),
		cfg:          c,
		defaultState: cfg.DefaultState,
		now:          time.Now,
	}
}

// CheckCredentials reports a CredentialError when the client id or secret is unset.
func (u *USPS) CheckCredentials() error {
	if u.cfg.ClientID == "" || u.cfg.ClientSecret == "" {
		return &CredentialError{Provider: "usps", Reason: "geocode.usps.client_id and geocode.usps.client_secret are required"}
	}
	return nil
}

// Validate checks each address in turn. A token that cannot be obtained
// fails every address; other HTTP problems fail only their own address.
// A rejected token or a cancelled context aborts the call.
func (u *USPS) Validate(ctx context.Context, addrs []AddressInput) ([]model.Validation, error) {
	log := zap.L().With(zap.String("component", "geocode.usps"))

	token, err := u.accessToken(ctx)
	if err != nil {
		log.Error("usps: token request failed", zap.Error(err))
		out := make([]model.Validation, len(addrs))
		for i, a := range addrs {
			out[i] = u.failed(a.ID, "oauth token acquisition failed")
		}
		return out, nil
	}

	out := make([]model.Validation, 0, len(addrs))
	for i, a := range addrs {
		v, err := u.validateOne(ctx, token, a)
		if err != nil {
			var credErr *CredentialError
			if errors.As(err, &credErr) {
				u.dropToken()
			}
			return out, err
		}
		out = append(out, v)
		if (i+1)%50 == 0 {
			log.Info("usps: progress", zap.Int("validated", i+1), zap.Int("total", len(addrs)))
		}
	}
	return out, nil
}

type uspsResponse struct {
	Address struct {
		StreetAddress string `json:"streetAddress"`
		City          string `json:"city"`
		State         string `json:"state"`
		ZIPCode       string `json:"ZIPCode"`
		ZIPPlus4      string `json:"ZIPPlus4"`
	} `json:"address"`
	AdditionalInfo struct {
		DeliveryPoint   string `json:"deliveryPoint"`
		CarrierRoute    string `json:"carrierRoute"`
		DPVConfirmation string `json:"DPVConfirmation"`
		Business        string `json:"business"`
		Vacant          string `json:"vacant"`
	} `json:"additionalInfo"`
}

type uspsError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (u *USPS) validateOne(ctx context.Context, token string, a AddressInput) (model.Validation, error) {
	street := strings.TrimSpace(a.Street)
	state := strings.TrimSpace(a.State)
	if state == "" {
		state = u.defaultState
	}
	city, zip := strings.TrimSpace(a.City), strings.TrimSpace(a.ZipCode)
	switch {
	case street == "":
		return u.failed(a.ID, "missing street address"), nil
	case state == "" || (city == "" && zip == ""):
		return u.failed(a.ID, "missing required fields (state, city or ZIP)"), nil
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return model.Validation{}, &TransportError{Provider: "usps", Err: eris.Wrap(err, "rate limit wait")}
	}

	params := url.Values{"streetAddress": {street}, "state": {state}}
	if city != "" {
		params.Set("city", city)
	}
	if zip != "" {
		params.Set("ZIPCode", zip)
	}
	if s := strings.TrimSpace(a.Secondary); s != "" {
		params.Set("secondaryAddress", s)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.BaseURL+"/address?"+params.Encode(), nil)
	if err != nil {
		return model.Validation{}, eris.Wrap(err, "geocode: usps: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, err := u.do(req)
	if err != nil {
		var credErr *CredentialError
		switch {
		case errors.As(err, &credErr):
			return model.Validation{}, err
		case ctx.Err() != nil:
			return model.Validation{}, &TransportError{Provider: "usps", Err: eris.Wrap(ctx.Err(), "context done")}
		}
		return u.failed(a.ID, uspsFailure(err)), nil
	}

	var resp uspsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return u.failed(a.ID, "decode response: "+err.Error()), nil
	}
	return u.toValidation(a, resp), nil
}

// toValidation marks the address corrected when USPS changed the street,
// city or zip, ignoring case and surrounding space.
func (u *USPS) toValidation(a AddressInput, resp uspsResponse) model.Validation {
	status := model.ValidationValidated
	if !sameField(resp.Address.StreetAddress, a.Street) ||
		!sameField(resp.Address.City, a.City) ||
		!sameField(resp.Address.ZIPCode, a.ZipCode) {
		status = model.ValidationCorrected
	}
	return model.Validation{
		RecordID:        a.ID,
		Status:          status,
		Street:          resp.Address.StreetAddress,
		City:            resp.Address.City,
		State:           resp.Address.State,
		Zip:             resp.Address.ZIPCode,
		ZipPlus4:        resp.Address.ZIPPlus4,
		DeliveryPoint:   resp.AdditionalInfo.DeliveryPoint,
		CarrierRoute:    resp.AdditionalInfo.CarrierRoute,
		DPVConfirmation: resp.AdditionalInfo.DPVConfirmation,
		Business:        resp.AdditionalInfo.Business,
		Vacant:          resp.AdditionalInfo.Vacant,
		ValidatedAt:     u.now().UTC(),
	}
}

func (u *USPS) failed(id, msg string) model.Validation {
	return model.Validation{RecordID: id, Status: model.ValidationFailed, Error: msg, ValidatedAt: u.now().UTC()}
}

// uspsFailure prefers the API's own error message over the HTTP status.
func uspsFailure(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		var ue uspsError
		if len(te.Body) > 0 && json.Unmarshal(te.Body, &ue) == nil && ue.Error.Message != "" {
			return ue.Error.Message
		}
		var ne net.Error
		if errors.As(te.Err, &ne) && ne.Timeout() {
			return "request timeout"
		}
		if te.StatusCode > 0 {
			return "HTTP " + strconv.Itoa(te.StatusCode)
		}
	}
	return err.Error()
}

func sameField(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// tokenURL derives the OAuth endpoint from the API base, which sits under
// /addresses/.
func (u *USPS) tokenURL() string {
	base := u.cfg.BaseURL
	if i := strings.LastIndex(base, "/addresses/"); i >= 0 {
		base = base[:i]
	}
	return base + "/oauth2/v3/token"
}

type uspsToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns the cached bearer token or fetches a new one with the
// client credentials grant.
func (u *USPS) accessToken(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.token != "" && u.now().Before(u.expires.Add(-tokenSlack)) {
		return u.token, nil
	}
	if err := u.CheckCredentials(); err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {u.cfg.ClientID},
		"client_secret": {u.cfg.ClientSecret},
		"scope":         {"addresses"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "geocode: usps: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := u.do(req)
	if err != nil {
		return "", err
	}
	var tok uspsToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", eris.Wrap(err, "geocode: usps: decode token response")
	}
	if tok.AccessToken == "" {
		return "", eris.New("geocode: usps: no access_token in token response")
	}
	if tok.ExpiresIn <= 0 {
		tok.ExpiresIn = 3600
	}
	u.token = tok.AccessToken
	u.expires = u.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return u.token, nil
}

func (u *USPS) dropToken() {
	u.mu.Lock()
	u.token = ""
	u.mu.Unlock()
}
