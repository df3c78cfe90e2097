package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

// Reviewer is the human-in-the-loop surface: attributes with unresolved
// conflicts or failed validations queue here, and every action leaves an
// audit entry naming the reviewer.
type Reviewer struct {
	store store.Store
}

// NewReviewer creates a reviewer.
func NewReviewer(st store.Store) *Reviewer {
	return &Reviewer{store: st}
}

// PendingKind classifies a review queue item.
type PendingKind string

const (
	PendingConflict   PendingKind = "conflict"
	PendingValidation PendingKind = "validation"
)

// PendingItem is one unit of review work.
type PendingItem struct {
	Kind          PendingKind            `json:"kind"`
	ProductID     string                 `json:"product_id"`
	AttributeName string                 `json:"attribute_name,omitempty"`
	RuleID        string                 `json:"rule_id,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Values        []model.AttributeValue `json:"values,omitempty"`
}

// Pending lists a product's open review items: attributes whose conflict
// survived automatic resolution, and failed rule validations.
func (r *Reviewer) Pending(ctx context.Context, productID string) ([]PendingItem, error) {
	attrs, err := r.store.ListAggregatedAttributes(ctx, productID)
	if err != nil {
		return nil, eris.Wrap(err, "review: list attributes")
	}

	var items []PendingItem
	for _, attr := range attrs {
		if attr.HasConflict {
			items = append(items, PendingItem{
				Kind:          PendingConflict,
				ProductID:     productID,
				AttributeName: attr.AttributeName,
				Reason:        fmt.Sprintf("%d conflicting values", len(attr.DistinctValues())),
				Values:        attr.Values,
			})
		}
	}

	validations, err := r.store.ListRuleValidations(ctx, productID)
	if err != nil {
		return nil, eris.Wrap(err, "review: list validations")
	}
	for _, v := range validations {
		if v.Status == model.ValidationFail {
			items = append(items, PendingItem{
				Kind:      PendingValidation,
				ProductID: productID,
				RuleID:    v.RuleID,
				Reason:    v.Reason,
			})
		}
	}
	return items, nil
}

// ResolveConflict collapses a conflicted attribute to the chosen value.
// The chosen value must be one of the observed values; overriding with an
// unobserved value goes through Override instead.
func (r *Reviewer) ResolveConflict(ctx context.Context, productID, attributeName, chosenValue, reviewer string) error {
	attr, err := r.store.GetAggregatedAttribute(ctx, productID, attributeName)
	if err != nil {
		return err
	}

	var winner *model.AttributeValue
	for i := range attr.Values {
		if attr.Values[i].Value == chosenValue {
			winner = &attr.Values[i]
			break
		}
	}
	if winner == nil {
		return eris.Errorf("review: value %q was not observed for %s", chosenValue, attributeName)
	}

	attr.Values = []model.AttributeValue{*winner}
	attr.HasConflict = false
	if err := r.store.UpsertAggregatedAttribute(ctx, *attr); err != nil {
		return eris.Wrap(err, "review: collapse attribute")
	}

	return r.audit(ctx, productID, attributeName, winner.Value, winner.SourceID,
		fmt.Sprintf("manually resolved by %s", reviewer))
}

// Approve records reviewer acceptance of the current value without
// changing it.
func (r *Reviewer) Approve(ctx context.Context, productID, attributeName, reviewer string) error {
	attr, err := r.store.GetAggregatedAttribute(ctx, productID, attributeName)
	if err != nil {
		return err
	}
	value, source := "", ""
	if len(attr.Values) > 0 {
		value, source = attr.Values[0].Value, attr.Values[0].SourceID
	}
	return r.audit(ctx, productID, attributeName, value, source,
		fmt.Sprintf("approved by %s", reviewer))
}

// Reject flags the current value as unacceptable. The attribute keeps its
// conflict flag so it stays in the review queue.
func (r *Reviewer) Reject(ctx context.Context, productID, attributeName, reviewer string) error {
	attr, err := r.store.GetAggregatedAttribute(ctx, productID, attributeName)
	if err != nil {
		return err
	}
	if !attr.HasConflict {
		attr.HasConflict = true
		if err := r.store.UpsertAggregatedAttribute(ctx, *attr); err != nil {
			return eris.Wrap(err, "review: reflag attribute")
		}
	}
	return r.audit(ctx, productID, attributeName, "", "",
		fmt.Sprintf("rejected by %s", reviewer))
}

// Override replaces the attribute's value with reviewer-supplied content,
// regardless of what sources observed.
func (r *Reviewer) Override(ctx context.Context, productID, attributeName, newValue, reviewer string) error {
	attr, err := r.store.GetAggregatedAttribute(ctx, productID, attributeName)
	if err != nil {
		return err
	}
	attr.Values = []model.AttributeValue{{Value: newValue, SourceID: "manual:" + reviewer, Confidence: 1}}
	attr.HasConflict = false
	if err := r.store.UpsertAggregatedAttribute(ctx, *attr); err != nil {
		return eris.Wrap(err, "review: override attribute")
	}
	return r.audit(ctx, productID, attributeName, newValue, "manual:"+reviewer,
		fmt.Sprintf("overridden by %s", reviewer))
}

func (r *Reviewer) audit(ctx context.Context, productID, attributeName, value, source, reason string) error {
	entry := model.AuditEntry{
		ProductID:     productID,
		AttributeName: attributeName,
		SelectedValue: value,
		SourceUsed:    source,
		Reason:        reason,
		Stage:         model.StageAggregation,
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		return eris.Wrap(err, "review: audit")
	}
	zap.L().Info("review: action recorded",
		zap.String("product_id", productID),
		zap.String("attribute", attributeName),
		zap.String("reason", reason),
	)
	return nil
}
