package paypal

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/payment/adapters/webhookutil"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const (
	defaultCertHostSuffix = ".paypal.com"
	authAlgoSHA256RSA     = "SHA256withRSA"
)

var eventKinds = map[string]paymentdomain.EventKind{
	"PAYMENT.AUTHORIZATION.CREATED": paymentdomain.EventKindAuthorized,
	"PAYMENT.CAPTURE.COMPLETED":     paymentdomain.EventKindCaptured,
	"PAYMENT.CAPTURE.DENIED":        paymentdomain.EventKindFailed,
	"PAYMENT.CAPTURE.DECLINED":      paymentdomain.EventKindFailed,
	"PAYMENT.CAPTURE.REFUNDED":      paymentdomain.EventKindRefunded,
	"CUSTOMER.DISPUTE.CREATED":      paymentdomain.EventKindDisputed,
}

type Option func(*Factory)

// WithHTTPClient replaces the client used to download signing certificates.
func WithHTTPClient(client *resty.Client) Option {
	return func(f *Factory) {
		if client != nil {
			f.certs = newCertCache(client)
		}
	}
}

// WithRootCAs pins the roots the signing certificate must chain to.
// The system pool is used when unset.
func WithRootCAs(roots *x509.CertPool) Option {
	return func(f *Factory) {
		f.roots = roots
	}
}

// Factory owns the certificate cache so it survives per-request adapters.
type Factory struct {
	certs *certCache
	roots *x509.CertPool
}

func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		certs: newCertCache(resty.New().SetTimeout(10 * time.Second)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderPaypal
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	webhookID, _ := webhookutil.ReadString(cfg.Config, "webhook_id")
	if strings.TrimSpace(webhookID) == "" && !cfg.ParseOnly {
		return nil, paymentdomain.ErrInvalidConfig
	}

	suffix, _ := webhookutil.ReadString(cfg.Config, "cert_host_suffix")
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		suffix = defaultCertHostSuffix
	}

	c := cfg.Clock
	if c == nil {
		c = clock.SystemClock{}
	}

	return &Adapter{
		webhookID:      strings.TrimSpace(webhookID),
		certHostSuffix: suffix,
		certs:          f.certs,
		roots:          f.roots,
		clock:          c,
	}, nil
}

type Adapter struct {
	webhookID      string
	certHostSuffix string
	certs          *certCache
	roots          *x509.CertPool
	clock          clock.Clock
}

// Verify checks the transmission signature against the certificate PayPal
// points to, after confirming the certificate is served from PayPal.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookID == "" {
		return paymentdomain.ErrInvalidConfig
	}
	transmissionID := strings.TrimSpace(headers.Get("Paypal-Transmission-Id"))
	transmissionTime := strings.TrimSpace(headers.Get("Paypal-Transmission-Time"))
	signature := strings.TrimSpace(headers.Get("Paypal-Transmission-Sig"))
	certURL := strings.TrimSpace(headers.Get("Paypal-Cert-Url"))
	authAlgo := strings.TrimSpace(headers.Get("Paypal-Auth-Algo"))
	if transmissionID == "" || transmissionTime == "" || signature == "" || certURL == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if authAlgo != "" && !strings.EqualFold(authAlgo, authAlgoSHA256RSA) {
		return paymentdomain.ErrInvalidSignature
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	chain, err := a.certs.get(ctx, certURL, a.certHostSuffix)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	if _, err := chain.leaf.Verify(x509.VerifyOptions{
		Roots:         a.roots,
		Intermediates: chain.intermediates,
		CurrentTime:   a.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	publicKey, ok := chain.leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return paymentdomain.ErrInvalidSignature
	}

	digest := sha256.Sum256([]byte(SignedMessage(transmissionID, transmissionTime, a.webhookID, payload)))
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// SignedMessage is the string PayPal signs for a webhook delivery.
func SignedMessage(transmissionID, transmissionTime, webhookID string, payload []byte) string {
	crc := crc32.ChecksumIEEE(payload)
	return transmissionID + "|" + transmissionTime + "|" + webhookID + "|" + strconv.FormatUint(uint64(crc), 10)
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, _ http.Header) (*paymentdomain.PaymentEvent, error) {
	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventID := strings.TrimSpace(event.ID)
	eventType := strings.TrimSpace(event.EventType)
	if eventID == "" || eventType == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	occurredAt := a.clock.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(event.CreateTime)); err == nil {
		occurredAt = parsed.UTC()
	}

	kind, ok := eventKinds[strings.ToUpper(eventType)]
	if !ok {
		return &paymentdomain.PaymentEvent{
			Provider:          paymentdomain.ProviderPaypal,
			ProviderEventID:   eventID,
			ProviderEventType: eventType,
			Kind:              paymentdomain.EventKindUnhandled,
			OccurredAt:        occurredAt,
			RawPayload:        payload,
		}, nil
	}

	var resource paypalResource
	if err := json.Unmarshal(event.Resource, &resource); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	orderID := resource.orderReference(kind)
	if orderID == "" {
		return nil, paymentdomain.ErrMissingOrderReference
	}

	money := resource.Amount
	if kind == paymentdomain.EventKindDisputed && resource.DisputeAmount != nil {
		money = resource.DisputeAmount
	}

	var amount *decimal.Decimal
	var currency string
	if money != nil && strings.TrimSpace(money.Value) != "" {
		value, err := decimal.NewFromString(strings.TrimSpace(money.Value))
		if err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		amount = &value
		currency = strings.ToUpper(strings.TrimSpace(money.CurrencyCode))
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderPaypal,
		ProviderEventID:   eventID,
		ProviderEventType: eventType,
		Kind:              kind,
		OrderID:           orderID,
		ProviderPaymentID: resource.paymentID(kind),
		Amount:            amount,
		Currency:          currency,
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

type paypalEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	CreateTime   string          `json:"create_time"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type paypalMoney struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

type paypalResource struct {
	ID                   string                     `json:"id"`
	CustomID             string                     `json:"custom_id"`
	InvoiceID            string                     `json:"invoice_id"`
	Amount               *paypalMoney               `json:"amount"`
	DisputeAmount        *paypalMoney               `json:"dispute_amount"`
	SupplementaryData    paypalSupplementaryData    `json:"supplementary_data"`
	DisputedTransactions []paypalDisputeTransaction `json:"disputed_transactions"`
}

type paypalSupplementaryData struct {
	RelatedIDs struct {
		OrderID         string `json:"order_id"`
		AuthorizationID string `json:"authorization_id"`
		CaptureID       string `json:"capture_id"`
	} `json:"related_ids"`
}

type paypalDisputeTransaction struct {
	SellerTransactionID string `json:"seller_transaction_id"`
	Custom              string `json:"custom"`
	InvoiceNumber       string `json:"invoice_number"`
}

func (r paypalResource) orderReference(kind paymentdomain.EventKind) string {
	if kind == paymentdomain.EventKindDisputed {
		for _, tx := range r.DisputedTransactions {
			if custom := strings.TrimSpace(tx.Custom); custom != "" {
				return custom
			}
			if invoice := strings.TrimSpace(tx.InvoiceNumber); invoice != "" {
				return invoice
			}
		}
		return ""
	}
	if custom := strings.TrimSpace(r.CustomID); custom != "" {
		return custom
	}
	return strings.TrimSpace(r.InvoiceID)
}

// paymentID resolves to the PayPal order id when present so authorization,
// capture and refund events share one reference.
func (r paypalResource) paymentID(kind paymentdomain.EventKind) string {
	if kind == paymentdomain.EventKindDisputed {
		for _, tx := range r.DisputedTransactions {
			if id := strings.TrimSpace(tx.SellerTransactionID); id != "" {
				return id
			}
		}
		return strings.TrimSpace(r.ID)
	}
	if id := strings.TrimSpace(r.SupplementaryData.RelatedIDs.OrderID); id != "" {
		return id
	}
	return strings.TrimSpace(r.ID)
}
