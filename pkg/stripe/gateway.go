package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/campuskit-io/campuskit-backend/pkg/cache"
	"github.com/campuskit-io/campuskit-backend/pkg/metrics"
)

// Gateway exposes the typed processor operations the billing services
// depend on. Every call runs under a bounded timeout and the shared retry
// policy; only transient failures are retried.
type Gateway struct {
	client      *Client
	retry       RetryPolicy
	prices      cache.Store
	metrics     *metrics.BillingMetrics
	callTimeout time.Duration
	priceTTL    time.Duration
}

// GatewayParams wires the gateway dependencies.
type GatewayParams struct {
	Client      *Client
	Retry       RetryPolicy
	PriceCache  cache.Store
	Metrics     *metrics.BillingMetrics
	CallTimeout time.Duration
	PriceTTL    time.Duration
}

// NewGateway validates dependencies and builds the processor gateway.
func NewGateway(params GatewayParams) (*Gateway, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	if params.PriceCache == nil {
		params.PriceCache = cache.NewMemory()
	}
	if params.Retry.MaxAttempts == 0 {
		params.Retry = DefaultRetryPolicy()
	}
	if params.CallTimeout <= 0 {
		params.CallTimeout = 20 * time.Second
	}
	if params.PriceTTL <= 0 {
		params.PriceTTL = 12 * time.Hour
	}
	return &Gateway{
		client:      params.Client,
		retry:       params.Retry,
		prices:      params.PriceCache,
		metrics:     params.Metrics,
		callTimeout: params.CallTimeout,
		priceTTL:    params.PriceTTL,
	}, nil
}

// SigningSecret returns the webhook signing secret.
func (g *Gateway) SigningSecret() string {
	return g.client.SigningSecret()
}

// PaymentIntentInput describes a one-time charge request.
type PaymentIntentInput struct {
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// PaymentIntentResult carries the confirmable artifact back to the caller.
type PaymentIntentResult struct {
	ID           string
	ClientSecret string
	AmountCents  int64
}

// SubscriptionItem is one priced line on a subscription.
type SubscriptionItem struct {
	PriceID  string
	Quantity int64
}

// SubscriptionInput describes a recurring purchase request.
type SubscriptionInput struct {
	CustomerID string
	Items      []SubscriptionItem
	Metadata   map[string]string
}

// SubscriptionResult carries the created subscription and its first
// invoice's confirmable secret and amount.
type SubscriptionResult struct {
	ID           string
	Status       string
	ClientSecret string
	AmountCents  int64
}

// PaymentMethod is a stored card summary.
type PaymentMethod struct {
	ID    string
	Brand string
	Last4 string
}

// PriceInput identifies a recurring price, creating it on first use.
type PriceInput struct {
	CacheKey        string
	ProductID       string
	ProductName     string
	UnitAmountCents int64
	Currency        string
	Interval        string
}

// CheckoutSessionInput describes a hosted checkout request.
type CheckoutSessionInput struct {
	CustomerID  string
	Mode        string
	Name        string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CreateCustomer provisions a processor customer for the tenant.
func (g *Gateway) CreateCustomer(ctx context.Context, email, accountID string) (string, error) {
	var customer *stripe.Customer
	err := g.call(ctx, "create_customer", func(callCtx context.Context) error {
		params := &stripe.CustomerParams{
			Params: stripe.Params{Context: callCtx},
			Email:  stripe.String(email),
		}
		params.AddMetadata("account_id", accountID)
		created, err := g.client.API().Customers.New(params)
		if err != nil {
			return err
		}
		customer = created
		return nil
	})
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

// CreatePaymentIntent creates a one-time charge intent.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntentResult, error) {
	var intent *stripe.PaymentIntent
	err := g.call(ctx, "create_payment_intent", func(callCtx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Params:   stripe.Params{Context: callCtx},
			Amount:   stripe.Int64(input.AmountCents),
			Currency: stripe.String(input.Currency),
		}
		if input.CustomerID != "" {
			params.Customer = stripe.String(input.CustomerID)
		}
		if input.PaymentMethodID != "" {
			params.PaymentMethod = stripe.String(input.PaymentMethodID)
		}
		for k, v := range input.Metadata {
			params.AddMetadata(k, v)
		}
		created, err := g.client.API().PaymentIntents.New(params)
		if err != nil {
			return err
		}
		intent = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PaymentIntentResult{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.Amount,
	}, nil
}

// CancelPaymentIntent voids an intent that never got confirmed.
func (g *Gateway) CancelPaymentIntent(ctx context.Context, id string) error {
	return g.call(ctx, "cancel_payment_intent", func(callCtx context.Context) error {
		params := &stripe.PaymentIntentCancelParams{
			Params: stripe.Params{Context: callCtx},
		}
		_, err := g.client.API().PaymentIntents.Cancel(id, params)
		return err
	})
}

// CreateSubscription opens a subscription with base + addon line items and
// returns the first invoice's confirmation secret.
func (g *Gateway) CreateSubscription(ctx context.Context, input SubscriptionInput) (*SubscriptionResult, error) {
	var sub *stripe.Subscription
	err := g.call(ctx, "create_subscription", func(callCtx context.Context) error {
		items := make([]*stripe.SubscriptionItemsParams, 0, len(input.Items))
		for _, item := range input.Items {
			lineItem := &stripe.SubscriptionItemsParams{Price: stripe.String(item.PriceID)}
			if item.Quantity > 1 {
				lineItem.Quantity = stripe.Int64(item.Quantity)
			}
			items = append(items, lineItem)
		}
		params := &stripe.SubscriptionParams{
			Params:          stripe.Params{Context: callCtx},
			Customer:        stripe.String(input.CustomerID),
			Items:           items,
			PaymentBehavior: stripe.String("default_incomplete"),
		}
		params.AddExpand("latest_invoice.confirmation_secret")
		for k, v := range input.Metadata {
			params.AddMetadata(k, v)
		}
		created, err := g.client.API().Subscriptions.New(params)
		if err != nil {
			return err
		}
		sub = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &SubscriptionResult{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.LatestInvoice != nil {
		result.AmountCents = sub.LatestInvoice.AmountDue
		if sub.LatestInvoice.ConfirmationSecret != nil {
			result.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
		}
	}
	return result, nil
}

// CancelSubscription cancels the subscription immediately.
func (g *Gateway) CancelSubscription(ctx context.Context, id string) error {
	return g.call(ctx, "cancel_subscription", func(callCtx context.Context) error {
		params := &stripe.SubscriptionCancelParams{
			Params: stripe.Params{Context: callCtx},
		}
		_, err := g.client.API().Subscriptions.Cancel(id, params)
		return err
	})
}

// SubscriptionStatus fetches the live status of an external subscription.
func (g *Gateway) SubscriptionStatus(ctx context.Context, id string) (string, error) {
	var sub *stripe.Subscription
	err := g.call(ctx, "get_subscription", func(callCtx context.Context) error {
		params := &stripe.SubscriptionParams{
			Params: stripe.Params{Context: callCtx},
		}
		fetched, err := g.client.API().Subscriptions.Get(id, params)
		if err != nil {
			return err
		}
		sub = fetched
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(sub.Status), nil
}

// CreateRefund refunds a confirmed payment intent.
func (g *Gateway) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64) (string, error) {
	var refund *stripe.Refund
	err := g.call(ctx, "create_refund", func(callCtx context.Context) error {
		params := &stripe.RefundParams{
			Params:        stripe.Params{Context: callCtx},
			PaymentIntent: stripe.String(paymentIntentID),
		}
		if amountCents > 0 {
			params.Amount = stripe.Int64(amountCents)
		}
		created, err := g.client.API().Refunds.New(params)
		if err != nil {
			return err
		}
		refund = created
		return nil
	})
	if err != nil {
		return "", err
	}
	return refund.ID, nil
}

// ListPaymentMethods returns the customer's saved cards.
func (g *Gateway) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	var methods []PaymentMethod
	err := g.call(ctx, "list_payment_methods", func(callCtx context.Context) error {
		params := &stripe.PaymentMethodListParams{
			ListParams: stripe.ListParams{Context: callCtx},
			Customer:   stripe.String(customerID),
			Type:       stripe.String("card"),
		}
		iter := g.client.API().PaymentMethods.List(params)
		collected := []PaymentMethod{}
		for iter.Next() {
			pm := iter.PaymentMethod()
			method := PaymentMethod{ID: pm.ID}
			if pm.Card != nil {
				method.Brand = string(pm.Card.Brand)
				method.Last4 = pm.Card.Last4
			}
			collected = append(collected, method)
		}
		if err := iter.Err(); err != nil {
			return err
		}
		methods = collected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return methods, nil
}

// AttachPaymentMethod attaches a card to the customer.
func (g *Gateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return g.call(ctx, "attach_payment_method", func(callCtx context.Context) error {
		params := &stripe.PaymentMethodAttachParams{
			Params:   stripe.Params{Context: callCtx},
			Customer: stripe.String(customerID),
		}
		_, err := g.client.API().PaymentMethods.Attach(paymentMethodID, params)
		return err
	})
}

// CreatePortalSession opens a billing-portal session for self-service.
func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	var sessionURL string
	err := g.call(ctx, "create_portal_session", func(callCtx context.Context) error {
		params := &stripe.BillingPortalSessionParams{
			Params:   stripe.Params{Context: callCtx},
			Customer: stripe.String(customerID),
		}
		if returnURL != "" {
			params.ReturnURL = stripe.String(returnURL)
		}
		session, err := g.client.API().BillingPortalSessions.New(params)
		if err != nil {
			return err
		}
		sessionURL = session.URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return sessionURL, nil
}

// CheckoutSessionResult carries the hosted session artifact.
type CheckoutSessionResult struct {
	ID  string
	URL string
}

// CreateCheckoutSession opens a hosted checkout page for a one-time charge.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSessionResult, error) {
	var result *CheckoutSessionResult
	err := g.call(ctx, "create_checkout_session", func(callCtx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			Params:     stripe.Params{Context: callCtx},
			Mode:       stripe.String(input.Mode),
			SuccessURL: stripe.String(input.SuccessURL),
			CancelURL:  stripe.String(input.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					Quantity: stripe.Int64(1),
					PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
						Currency:   stripe.String(input.Currency),
						UnitAmount: stripe.Int64(input.AmountCents),
						ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
							Name: stripe.String(input.Name),
						},
					},
				},
			},
		}
		if input.CustomerID != "" {
			params.Customer = stripe.String(input.CustomerID)
		}
		for k, v := range input.Metadata {
			params.AddMetadata(k, v)
		}
		session, err := g.client.API().CheckoutSessions.New(params)
		if err != nil {
			return err
		}
		result = &CheckoutSessionResult{ID: session.ID, URL: session.URL}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PriceResult carries a resolved price id and the product it belongs to.
type PriceResult struct {
	PriceID   string
	ProductID string
}

// EnsurePrice resolves a recurring price id, creating product/price objects
// on first use and caching the id under the input's cache key.
func (g *Gateway) EnsurePrice(ctx context.Context, input PriceInput) (*PriceResult, error) {
	if cached, ok, err := g.prices.Get(ctx, input.CacheKey); err == nil && ok {
		return &PriceResult{PriceID: cached, ProductID: input.ProductID}, nil
	}

	productID := input.ProductID
	if productID == "" {
		var product *stripe.Product
		err := g.call(ctx, "create_product", func(callCtx context.Context) error {
			params := &stripe.ProductParams{
				Params: stripe.Params{Context: callCtx},
				Name:   stripe.String(input.ProductName),
			}
			created, err := g.client.API().Products.New(params)
			if err != nil {
				return err
			}
			product = created
			return nil
		})
		if err != nil {
			return nil, err
		}
		productID = product.ID
	}

	var price *stripe.Price
	err := g.call(ctx, "create_price", func(callCtx context.Context) error {
		params := &stripe.PriceParams{
			Params:     stripe.Params{Context: callCtx},
			Product:    stripe.String(productID),
			UnitAmount: stripe.Int64(input.UnitAmountCents),
			Currency:   stripe.String(input.Currency),
			Recurring: &stripe.PriceRecurringParams{
				Interval: stripe.String(input.Interval),
			},
		}
		created, err := g.client.API().Prices.New(params)
		if err != nil {
			return err
		}
		price = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	// best-effort: a failed put only means an extra lookup next call
	_ = g.prices.Put(ctx, input.CacheKey, price.ID, g.priceTTL)
	return &PriceResult{PriceID: price.ID, ProductID: productID}, nil
}

func (g *Gateway) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	defer func() {
		g.metrics.ObserveProcessorCall(operation, time.Since(start))
	}()

	return g.retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return fn(callCtx)
	})
}
