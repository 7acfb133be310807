package stock

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

var alnumSpace = regexp.MustCompile(`^[A-Za-z0-9 ]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("alnumspace", func(fl validator.FieldLevel) bool {
		return alnumSpace.MatchString(fl.Field().String())
	})
	return v
}

type itemRules struct {
	Description string `validate:"required,max=50,alnumspace"`
}

type refRules struct {
	RefNumber string `validate:"required,alnumspace"`
}

type submitRules struct {
	RefNumber  string          `validate:"required,alnumspace"`
	Quantities map[int64]int64 `validate:"required,min=1,dive,keys,gt=0,endkeys,gt=0,lte=2147483647"`
}

type receivedRules struct {
	OrderID int64 `validate:"gt=0"`
	ItemID  int64 `validate:"gt=0"`
	Qty     int64 `validate:"gte=0,lte=2147483647"`
}

type idsRules struct {
	IDs []int64 `validate:"required,min=1,dive,gt=0"`
}

func normalizeItem(in ItemInput) (ItemInput, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := check(itemRules{Description: in.Description}); err != nil {
		return ItemInput{}, err
	}
	if in.Price.IsNegative() {
		return ItemInput{}, fmt.Errorf("stock: price must not be negative: %w", shared.ErrValidation)
	}
	if in.Price.GreaterThan(MaxPrice) {
		return ItemInput{}, fmt.Errorf("stock: price must not exceed %s: %w", MaxPrice.StringFixed(2), shared.ErrValidation)
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return ItemInput{}, fmt.Errorf("stock: price allows at most 2 decimal places: %w", shared.ErrValidation)
	}
	in.Price = in.Price.Round(2)
	return in, nil
}

func normalizeRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if err := check(refRules{RefNumber: ref}); err != nil {
		return "", err
	}
	return ref, nil
}

func normalizeSubmit(in SubmitOrderInput) (SubmitOrderInput, error) {
	in.RefNumber = strings.TrimSpace(in.RefNumber)
	if err := check(submitRules{RefNumber: in.RefNumber, Quantities: in.Quantities}); err != nil {
		return SubmitOrderInput{}, err
	}
	return in, nil
}

func checkReceived(orderID, itemID, qty int64) error {
	return check(receivedRules{OrderID: orderID, ItemID: itemID, Qty: qty})
}

// normalizeIDs validates and de-duplicates ids, returning them sorted so row
// locks are always taken in the same order.
func normalizeIDs(ids []int64) ([]int64, error) {
	if err := check(idsRules{IDs: ids}); err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func sortedKeys(m map[int64]int64) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// missingIDs returns the members of want absent from have.
func missingIDs(want, have []int64) []int64 {
	found := make(map[int64]struct{}, len(have))
	for _, id := range have {
		found[id] = struct{}{}
	}
	var missing []int64
	for _, id := range want {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("stock: %v: %w", err, shared.ErrValidation)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("stock: %s: %w", strings.Join(msgs, "; "), shared.ErrValidation)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "alnumspace":
		return field + " may only contain letters, numbers and spaces"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return field + " must not be empty"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
