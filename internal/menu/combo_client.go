package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/cart"
)

var (
	ErrMenuBadStatus   = errors.New("menu bad status")
	ErrMenuUnavailable = errors.New("menu unavailable")
)

// ComboClient asks the menu service for a combo's dishes:
// GET {base}/setmeals/{id}/dishes -> [{"dish_id":1,"available":true}].
// A 404 means the combo is unknown and yields no constituents.
type ComboClient struct {
	BaseURL string
	Client  *http.Client
}

func NewComboClient(baseURL string) *ComboClient {
	if u, err := url.Parse(baseURL); err == nil && u.Scheme != "" && u.Host != "" {
		baseURL = strings.TrimRight(baseURL, "/")
	}
	return &ComboClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *ComboClient) ConstituentsOf(ctx context.Context, comboID int64) ([]cart.Constituent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/setmeals/%d/dishes", c.BaseURL, comboID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMenuUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status=%d", ErrMenuBadStatus, resp.StatusCode)
	}

	var parts []cart.Constituent
	if err := json.NewDecoder(resp.Body).Decode(&parts); err != nil {
		return nil, fmt.Errorf("decode combo %d: %w", comboID, err)
	}
	return parts, nil
}
