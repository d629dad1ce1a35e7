package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyzr/assembly/common/cache"
)

var (
	// ErrItemNotFound means the item master has no entry for the item code
	ErrItemNotFound = errors.New("item not found")

	// ErrNoVerificationCode means the item exists but carries no code field
	ErrNoVerificationCode = errors.New("item has no verification code")
)

// codeFields are checked in order on an item master entry
var codeFields = []string{"code", "barcode", "verification_code"}

// InventoryClient resolves item codes to verification codes through the
// item master search endpoint
type InventoryClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
	cache   cache.Cache
	ttl     time.Duration
}

// NewInventoryClient creates a new inventory lookup client
func NewInventoryClient(baseURL string, timeout time.Duration, logger Logger) *InventoryClient {
	return &InventoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:  logger,
	}
}

// WithCache caches successful lookups for ttl
func (c *InventoryClient) WithCache(store cache.Cache, ttl time.Duration) *InventoryClient {
	c.cache = store
	c.ttl = ttl
	return c
}

// Lookup returns the verification code for itemCode
func (c *InventoryClient) Lookup(ctx context.Context, itemCode string) (string, error) {
	cacheKey := "inventory:code:" + itemCode
	if c.cache != nil {
		if v, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
			c.logger.Debug("verification code cache hit", "item_code", itemCode)
			return string(v), nil
		}
	}

	endpoint := fmt.Sprintf("%s/api/item-master/?search=%s", c.baseURL, url.QueryEscape(itemCode))

	var raw json.RawMessage
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		if IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrItemNotFound, itemCode)
		}
		return "", fmt.Errorf("failed to look up item %s: %w", itemCode, err)
	}

	item, ok := selectItem(raw, itemCode)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrItemNotFound, itemCode)
	}

	code, ok := verificationCode(item)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoVerificationCode, itemCode)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, []byte(code), c.ttl); err != nil {
			c.logger.Warn("failed to cache verification code", "item_code", itemCode, "error", err)
		}
	}

	c.logger.Debug("verification code resolved", "item_code", itemCode, "code", code)
	return code, nil
}

// selectItem accepts the shapes the item master has been seen to return:
// {"results": [...]}, {"data": [...]}, a bare array, or a single item.
// An entry whose item_code matches exactly wins over the first entry.
func selectItem(raw json.RawMessage, itemCode string) (map[string]interface{}, bool) {
	var list []map[string]interface{}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj["results"] != nil:
			_ = json.Unmarshal(obj["results"], &list)
		case obj["data"] != nil:
			_ = json.Unmarshal(obj["data"], &list)
		case obj["item_code"] != nil:
			var single map[string]interface{}
			if err := json.Unmarshal(raw, &single); err == nil {
				list = append(list, single)
			}
		}
	} else {
		_ = json.Unmarshal(raw, &list)
	}

	if len(list) == 0 {
		return nil, false
	}

	for _, item := range list {
		if s, _ := item["item_code"].(string); s == itemCode {
			return item, true
		}
	}
	return list[0], true
}

func verificationCode(item map[string]interface{}) (string, bool) {
	for _, field := range codeFields {
		if s, ok := item[field].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
