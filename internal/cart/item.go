package cart

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrStoreUnavailable = errors.New("cart store unavailable")
	ErrLineNotFound     = errors.New("cart line not found")
	ErrComboUnavailable = errors.New("combo contains an unavailable dish")
	ErrInvalidItem      = errors.New("invalid cart item")
)

type ItemKind string

const (
	KindDish  ItemKind = "dish"
	KindCombo ItemKind = "combo"
)

func (k ItemKind) Valid() bool {
	return k == KindDish || k == KindCombo
}

// ItemRef identifies the product behind a cart line. It is either a dish or
// a combo, never both; build it with Dish, Combo or ParseItemRef.
type ItemRef struct {
	Kind ItemKind `json:"kind"`
	ID   int64    `json:"id"`
}

func Dish(id int64) ItemRef  { return ItemRef{Kind: KindDish, ID: id} }
func Combo(id int64) ItemRef { return ItemRef{Kind: KindCombo, ID: id} }

func (r ItemRef) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, r.Kind)
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidItem)
	}
	return nil
}

// Key is the field name of the line inside a cart container.
func (r ItemRef) Key() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

func (r ItemRef) String() string { return r.Key() }

func ParseKey(key string) (ItemRef, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return ItemRef{}, fmt.Errorf("%w: malformed key %q", ErrInvalidItem, key)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ItemRef{}, fmt.Errorf("%w: malformed key %q", ErrInvalidItem, key)
	}
	ref := ItemRef{Kind: ItemKind(kind), ID: n}
	if err := ref.Validate(); err != nil {
		return ItemRef{}, err
	}
	return ref, nil
}

// ParseItemRef turns the legacy pair of nullable columns (dish id, combo id)
// into an ItemRef. Exactly one of them must be set.
func ParseItemRef(dishID, comboID *int64) (ItemRef, error) {
	switch {
	case dishID != nil && comboID != nil:
		return ItemRef{}, fmt.Errorf("%w: both dish and combo set", ErrInvalidItem)
	case dishID != nil:
		ref := Dish(*dishID)
		return ref, ref.Validate()
	case comboID != nil:
		ref := Combo(*comboID)
		return ref, ref.Validate()
	default:
		return ItemRef{}, fmt.Errorf("%w: neither dish nor combo set", ErrInvalidItem)
	}
}

// Details is the display data copied onto a line when it is created.
type Details struct {
	Name        string `json:"name,omitempty"`
	Image       string `json:"image,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
}

type LineItem struct {
	LineID    string    `json:"id"`
	Item      ItemRef   `json:"item"`
	Quantity  int64     `json:"quantity"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Details
}

// DueEntry is one schedule index record: the user's cart becomes eligible
// for cleanup at Due.
type DueEntry struct {
	UserID string
	Due    time.Time
}

func lineLess(a, b LineItem) bool {
	if a.Item.Kind != b.Item.Kind {
		return a.Item.Kind < b.Item.Kind
	}
	return a.Item.ID < b.Item.ID
}
