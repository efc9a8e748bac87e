package stripewebhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

const (
	metadataPlanTier = "plan_tier"
	metadataPlanName = "plan_name"
	metadataTrialEnd = "trial_end"
)

type envelope struct {
	ID      string `validate:"required,max=255"`
	Type    string `validate:"required,max=255"`
	Created int64  `validate:"gt=0"`
}

type target struct {
	SubscriptionID    string `validate:"required,max=255"`
	BillingCustomerID string `validate:"omitempty,max=255"`
	ClientReferenceID string `validate:"omitempty,max=255"`
}

// Decoder turns verified Stripe events into normalized submissions.
type Decoder struct {
	validate *validator.Validate
	skew     time.Duration
	now      func() time.Time
}

// NewDecoder builds a decoder that refuses events timestamped further than skew in the future.
func NewDecoder(skew time.Duration) *Decoder {
	return &Decoder{validate: validator.New(), skew: skew, now: time.Now}
}

// Decode maps a verified event onto a submission. Unsupported event types decode with an empty kind.
func (d *Decoder) Decode(event stripe.Event, raw []byte) (subscriptions.Submission, error) {
	return d.decode(event, raw, true)
}

// DecodeStored rebuilds the submission for a ledger entry recorded from a provider webhook.
// The skew check is skipped since the entry was accepted when it arrived.
func (d *Decoder) DecodeStored(entry models.BillingEvent) (subscriptions.Submission, error) {
	if entry.Source != enums.LedgerSourceProvider {
		return subscriptions.Submission{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("ledger entry from %s is not a provider event", entry.Source))
	}
	var event stripe.Event
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		return subscriptions.Submission{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stored stripe event")
	}
	return d.decode(event, entry.Payload, false)
}

func (d *Decoder) decode(event stripe.Event, raw []byte, checkSkew bool) (subscriptions.Submission, error) {
	env := envelope{ID: strings.TrimSpace(event.ID), Type: string(event.Type), Created: event.Created}
	if err := d.validate.Struct(env); err != nil {
		return subscriptions.Submission{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe event envelope")
	}
	occurredAt := time.Unix(event.Created, 0).UTC()
	if checkSkew && occurredAt.After(d.now().Add(d.skew)) {
		return subscriptions.Submission{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event timestamp is in the future").
			WithDetails(map[string]any{"event_id": env.ID, "created": occurredAt})
	}

	sub := subscriptions.Submission{
		Event: subscriptions.Event{
			ID:         env.ID,
			Source:     enums.LedgerSourceProvider,
			OccurredAt: occurredAt,
		},
		EventType: env.Type,
		Payload:   json.RawMessage(raw),
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return subscriptions.Submission{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var err error
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		err = decodeCheckout(event.Data.Raw, &sub)
	case stripe.EventTypeCustomerSubscriptionCreated:
		err = decodeSubscription(event.Data.Raw, enums.BillingEventSubscriptionCreated, &sub)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		err = decodeSubscription(event.Data.Raw, enums.BillingEventSubscriptionUpdated, &sub)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		err = decodeSubscription(event.Data.Raw, enums.BillingEventSubscriptionDeleted, &sub)
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		err = decodeInvoice(event.Data.Raw, enums.BillingEventPaymentSucceeded, &sub)
	case stripe.EventTypeInvoicePaymentFailed:
		err = decodeInvoice(event.Data.Raw, enums.BillingEventPaymentFailed, &sub)
	}
	if err != nil {
		return subscriptions.Submission{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", env.Type))
	}
	if sub.Event.Kind == "" {
		return sub, nil
	}

	details := sub.Event.Details
	if err := d.validate.Struct(target{
		SubscriptionID:    sub.Event.SubscriptionID,
		BillingCustomerID: details.BillingCustomerID,
		ClientReferenceID: details.ClientReferenceID,
	}); err != nil {
		return subscriptions.Submission{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s payload", env.Type))
	}
	sub.CustomerRef = details.BillingCustomerID
	return sub, nil
}

func decodeCheckout(raw json.RawMessage, sub *subscriptions.Submission) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return err
	}

	details := subscriptions.Details{
		BillingCustomerID: customerID(session.Customer),
		ClientReferenceID: strings.TrimSpace(session.ClientReferenceID),
		Email:             session.CustomerEmail,
		PlanTier:          planTier(session.Metadata),
		PlanName:          session.Metadata[metadataPlanName],
		Currency:          string(session.Currency),
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		details.Email = session.CustomerDetails.Email
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return nil
		}
		details.Mode = subscriptions.CheckoutModePayment
		details.PlanTier = enums.PlanTierLifetime
		if session.AmountTotal > 0 {
			details.PriceAmount = minorUnits(session.AmountTotal)
		}
		sub.Event.SubscriptionID = session.ID
	case stripe.CheckoutSessionModeSubscription:
		details.Mode = subscriptions.CheckoutModeSubscription
		if session.Subscription != nil {
			sub.Event.SubscriptionID = session.Subscription.ID
			applySubscriptionFields(session.Subscription, &details)
		}
		if details.TrialEnd == nil {
			details.TrialEnd = metadataTime(session.Metadata, metadataTrialEnd)
		}
	default:
		return nil
	}

	sub.Event.Kind = enums.BillingEventCheckoutCompleted
	sub.Event.Details = details
	return nil
}

func decodeSubscription(raw json.RawMessage, kind enums.BillingEventKind, sub *subscriptions.Submission) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(raw, &stripeSub); err != nil {
		return err
	}
	details := subscriptions.Details{
		ProviderStatus:    string(stripeSub.Status),
		BillingCustomerID: customerID(stripeSub.Customer),
		PlanTier:          planTier(stripeSub.Metadata),
		PlanName:          stripeSub.Metadata[metadataPlanName],
	}
	applySubscriptionFields(&stripeSub, &details)
	cancelAtPeriodEnd := stripeSub.CancelAtPeriodEnd
	details.CancelAtPeriodEnd = &cancelAtPeriodEnd

	sub.Event.Kind = kind
	sub.Event.SubscriptionID = stripeSub.ID
	sub.Event.Details = details
	return nil
}

// applySubscriptionFields copies trial, period and price data from a (possibly expanded) subscription.
func applySubscriptionFields(stripeSub *stripe.Subscription, details *subscriptions.Details) {
	if stripeSub.TrialEnd > 0 {
		details.TrialEnd = unixPtr(stripeSub.TrialEnd)
	}
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 || stripeSub.Items.Data[0] == nil {
		return
	}
	item := stripeSub.Items.Data[0]
	if item.CurrentPeriodEnd > 0 {
		details.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}
	price := item.Price
	if price == nil {
		return
	}
	if price.UnitAmount > 0 {
		details.PriceAmount = minorUnits(price.UnitAmount)
	}
	if details.Currency == "" {
		details.Currency = string(price.Currency)
	}
	if details.PlanName == "" {
		details.PlanName = price.Nickname
	}
	if details.PlanTier == "" {
		details.PlanTier = planTier(price.Metadata)
	}
}

// invoiceObject reads the subscription reference from both the legacy top-level field and
// the parent.subscription_details block newer API versions use.
type invoiceObject struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Lines      struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func decodeInvoice(raw json.RawMessage, kind enums.BillingEventKind, sub *subscriptions.Submission) error {
	var inv invoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}
	subscriptionID := inv.subscriptionID()
	if subscriptionID == "" {
		// One-off invoices carry no lifecycle change.
		return nil
	}
	details := subscriptions.Details{
		BillingCustomerID: string(inv.Customer),
		Currency:          inv.Currency,
	}
	if kind == enums.BillingEventPaymentSucceeded {
		if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
			details.CurrentPeriodEnd = unixPtr(inv.Lines.Data[0].Period.End)
		}
		if inv.AmountPaid > 0 {
			details.PriceAmount = minorUnits(inv.AmountPaid)
		}
	}
	sub.Event.Kind = kind
	sub.Event.SubscriptionID = subscriptionID
	sub.Event.Details = details
	return nil
}

// expandableID accepts either a bare id or an expanded object carrying one.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func customerID(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}

func planTier(metadata map[string]string) enums.PlanTier {
	raw := strings.TrimSpace(metadata[metadataPlanTier])
	if raw == "" {
		return ""
	}
	return enums.ParsePlanTier(raw)
}

func metadataTime(metadata map[string]string, key string) *time.Time {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return nil
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || unix <= 0 {
		return nil
	}
	return unixPtr(unix)
}

func minorUnits(amount int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.New(amount, -2))
}

func unixPtr(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}
