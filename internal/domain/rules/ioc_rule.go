package rules

import (
	"context"
	"fmt"

	"github.com/merrymaker/scanner/internal/domain/model"
)

// IOCLookup checks a host against the IOC cache (§4.5).
type IOCLookup interface {
	LookupHost(ctx context.Context, host string) (bool, error)
}

// AllowListCheck checks a (type, key) pair against the allow-list cache.
type AllowListCheck interface {
	IsAllowed(ctx context.Context, t model.IOCType, key string) (bool, error)
}

// IOCRule is the representative domain rule from §4.5: parse the request URL
// to a host, check the allow-list first, then the IOC cache.
type IOCRule struct {
	IOCs      IOCLookup
	AllowList AllowListCheck
}

// ID identifies the rule.
func (r *IOCRule) ID() string { return "ioc" }

// Process implements Rule.
func (r *IOCRule) Process(ctx context.Context, event model.ScanEvent) ([]Alert, error) {
	host, ok := extractHost(event)
	if !ok {
		return nil, nil
	}
	iocType := classifyHost(host)

	if r.AllowList != nil {
		allowed, err := r.AllowList.IsAllowed(ctx, iocType, host)
		if err != nil {
			return nil, fmt.Errorf("allow-list check: %w", err)
		}
		if allowed {
			return nil, nil
		}
	}

	if r.IOCs == nil {
		return nil, nil
	}
	hit, err := r.IOCs.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("ioc lookup: %w", err)
	}
	if !hit {
		return nil, nil
	}

	return []Alert{{
		RuleName:    r.ID(),
		Key:         host,
		Title:       fmt.Sprintf("IOC match: %s", host),
		Description: fmt.Sprintf("host %s matched a known indicator of compromise", host),
		Severity:    SeverityHigh,
		Context: map[string]any{
			"host":     host,
			"ioc_type": string(iocType),
			"scan_id":  event.ScanID,
		},
	}}, nil
}
