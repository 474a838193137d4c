package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/provider"
	"github.com/nidhogg/finsight/internal/ratelimit"
	"github.com/nidhogg/finsight/internal/trace"
)

// ErrPriceUnavailable means no price could be obtained for a product.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is an estimated price for a product.
type Quote struct {
	Product string  `json:"product"`
	Price   float64 `json:"price"`
	OneTime bool    `json:"one_time"`
}

// PriceLookup estimates what a product costs.
type PriceLookup interface {
	LookupPrice(ctx context.Context, product string) (Quote, error)
}

// Limiter is the part of ratelimit.Limiter the lookup needs.
type Limiter interface {
	TryAcquire() (bool, ratelimit.Remaining)
}

// Chatter sends a request to whichever provider serves a purpose.
type Chatter interface {
	Route(ctx context.Context, purpose string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// LLMPriceLookup asks the pricing model for an estimate in INR.
type LLMPriceLookup struct {
	limiter Limiter
	llm     Chatter
	logger  *zap.Logger
}

// NewLLMPriceLookup creates a lookup that spends one limiter slot per call.
func NewLLMPriceLookup(limiter Limiter, llm Chatter, logger *zap.Logger) *LLMPriceLookup {
	return &LLMPriceLookup{limiter: limiter, llm: llm, logger: logger}
}

const pricePrompt = `What is the estimated price in INR for: "%s"
For one-time purchases (flights, electronics, etc.), give the TOTAL price.
For subscriptions/recurring expenses, give the MONTHLY cost.
Return ONLY in this format:
Product: [name]
Price: [number in INR]
Type: [one-time or monthly]`

func (l *LLMPriceLookup) LookupPrice(ctx context.Context, product string) (Quote, error) {
	if strings.TrimSpace(product) == "" {
		return Quote{}, fmt.Errorf("empty product name: %w", ErrPriceUnavailable)
	}
	if ok, _ := l.limiter.TryAcquire(); !ok {
		return Quote{}, fmt.Errorf("llm budget exhausted: %w", ErrPriceUnavailable)
	}

	start := time.Now()
	resp, err := l.llm.Route(ctx, provider.PurposePricing, &provider.ChatRequest{
		Messages:    []provider.Message{{Role: "user", Content: fmt.Sprintf(pricePrompt, product)}},
		Temperature: 0.1,
		MaxTokens:   100,
	})
	trace.FromContext(ctx).Record(trace.LLMCall, "pricing", "", time.Since(start), map[string]any{
		"purpose": "price_lookup", "product": product, "ok": err == nil,
	})
	if err != nil {
		l.logger.Warn("price lookup failed", zap.String("product", product), zap.Error(err))
		return Quote{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	q := ParseQuote(resp.Content)
	if q.Product == "" {
		q.Product = product
	}
	if q.Price <= 0 {
		return Quote{}, fmt.Errorf("no price in reply for %s: %w", product, ErrPriceUnavailable)
	}
	return q, nil
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseQuote reads the Product/Price/Type lines of a pricing reply. Unknown
// lines are ignored; a missing price leaves Price at zero.
func ParseQuote(text string) Quote {
	var q Quote
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.Trim(strings.TrimSpace(key), "*- "))
		value = strings.TrimSpace(value)
		switch {
		case strings.Contains(key, "product"):
			q.Product = strings.Trim(value, "*\" ")
		case strings.Contains(key, "price"):
			cleaned := strings.NewReplacer("₹", "", "$", "", ",", "", " ", "").Replace(value)
			if m := numberRe.FindString(cleaned); m != "" {
				q.Price, _ = strconv.ParseFloat(m, 64)
			}
		case strings.Contains(key, "type"):
			v := strings.ToLower(value)
			q.OneTime = strings.Contains(v, "one") || strings.Contains(v, "total")
		}
	}
	return q
}
