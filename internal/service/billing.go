package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/rs/zerolog/log"
)

const invoiceListLimit = 12

// BillingService creates provider-hosted billing pages and lists invoices.
type BillingService struct {
	entitlements *EntitlementService
	gateway      payment.Gateway
	frontendURL  string
	validate     *validator.Validate
}

func NewBillingService(entitlements *EntitlementService, gateway payment.Gateway, frontendURL string) *BillingService {
	return &BillingService{
		entitlements: entitlements,
		gateway:      gateway,
		frontendURL:  frontendURL,
		validate:     validator.New(),
	}
}

// CreateCheckout starts a premium checkout for userID. Users who already hold
// premium are rejected; they manage billing through the portal.
func (s *BillingService) CreateCheckout(ctx context.Context, userID, email string, req *domain.CheckoutRequest) (*domain.RedirectResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	e, err := s.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}
	if e.EffectivePlan(s.entitlements.now()) == domain.PlanPremium {
		return nil, domain.ErrBadRequest("already subscribed to premium")
	}

	params := payment.CheckoutParams{
		UserID:     userID,
		Email:      email,
		SuccessURL: s.frontendURL + "/billing?checkout=success",
		CancelURL:  s.frontendURL + "/billing?checkout=canceled",
	}
	if e != nil {
		params.CustomerID = e.ExternalCustomerID
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("operation", "create_checkout").Msg("Checkout session failed")
		return nil, domain.ErrUnavailable("payment provider unavailable", err)
	}
	return &domain.RedirectResponse{URL: url}, nil
}

// CreatePortal opens the billing portal for the customer linked to userID.
func (s *BillingService) CreatePortal(ctx context.Context, userID string) (*domain.RedirectResponse, error) {
	customerID, err := s.customerID(ctx, userID)
	if err != nil {
		return nil, err
	}
	url, err := s.gateway.CreatePortalSession(ctx, customerID, s.frontendURL+"/billing")
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("operation", "create_portal").Msg("Portal session failed")
		return nil, domain.ErrUnavailable("payment provider unavailable", err)
	}
	return &domain.RedirectResponse{URL: url}, nil
}

// ListInvoices returns the most recent invoices of userID's customer.
func (s *BillingService) ListInvoices(ctx context.Context, userID string) ([]domain.Invoice, error) {
	customerID, err := s.customerID(ctx, userID)
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) && appErr.Code == http.StatusNotFound {
			return []domain.Invoice{}, nil
		}
		return nil, err
	}
	invoices, err := s.gateway.ListInvoices(ctx, customerID, invoiceListLimit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("operation", "list_invoices").Msg("Invoice listing failed")
		return nil, domain.ErrUnavailable("payment provider unavailable", err)
	}

	out := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, domain.Invoice{
			ID:        inv.ID,
			Status:    inv.Status,
			AmountDue: inv.AmountDue,
			Currency:  inv.Currency,
			URL:       inv.URL,
			CreatedAt: inv.CreatedAt,
		})
	}
	return out, nil
}

func (s *BillingService) customerID(ctx context.Context, userID string) (string, error) {
	e, err := s.entitlements.GetEntitlement(ctx, userID)
	if err != nil {
		return "", err
	}
	if e == nil || e.ExternalCustomerID == "" {
		return "", domain.ErrNotFound("no billing account for this user")
	}
	return e.ExternalCustomerID, nil
}
