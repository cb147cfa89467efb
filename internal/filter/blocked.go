package filter

import (
	"context"
	"strings"
)

// BlockedNumbers answers whether a number is on the block list.
type BlockedNumbers interface {
	IsBlocked(ctx context.Context, number string) (bool, error)
}

// BlockedNumberFilter blocks callers on the block list. Blocked calls are
// still logged but raise no notification.
type BlockedNumberFilter struct {
	Numbers BlockedNumbers
}

func (f *BlockedNumberFilter) Name() string { return "blocked_number" }

func (f *BlockedNumberFilter) Filter(ctx context.Context, req Request) (Result, error) {
	number := NormalizeNumber(req.Handle)
	if number == "" {
		return Allow(), nil
	}
	blocked, err := f.Numbers.IsBlocked(ctx, number)
	if err != nil {
		return Result{}, err
	}
	if !blocked {
		return Allow(), nil
	}
	return Result{Block: true, Log: true, Notify: false, Reason: "number is blocked"}, nil
}

// RestrictedHandleFilter blocks callers that withhold their number.
type RestrictedHandleFilter struct {
	BlockRestricted bool
	BlockUnknown    bool
}

func (f *RestrictedHandleFilter) Name() string { return "restricted_handle" }

func (f *RestrictedHandleFilter) Filter(_ context.Context, req Request) (Result, error) {
	handle := strings.ToLower(strings.TrimSpace(req.Handle))
	switch {
	case f.BlockUnknown && handle == "":
		return Result{Block: true, Log: true, Reason: "unknown caller"}, nil
	case f.BlockRestricted && (handle == "anonymous" || handle == "restricted" || handle == "private"):
		return Result{Block: true, Log: true, Reason: "restricted caller"}, nil
	}
	return Allow(), nil
}

// NormalizeNumber strips a tel: scheme and visual separators.
func NormalizeNumber(handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "tel:")
	var b strings.Builder
	for i, r := range handle {
		switch {
		case r >= '0' && r <= '9', r == '*', r == '#':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StaticNumbers is a fixed block list, typically loaded from configuration.
type StaticNumbers map[string]bool

func NewStaticNumbers(numbers ...string) StaticNumbers {
	s := make(StaticNumbers, len(numbers))
	for _, n := range numbers {
		if n = NormalizeNumber(n); n != "" {
			s[n] = true
		}
	}
	return s
}

func (s StaticNumbers) IsBlocked(_ context.Context, number string) (bool, error) {
	return s[NormalizeNumber(number)], nil
}

// AnyBlocked consults several lists in order.
type AnyBlocked []BlockedNumbers

func (a AnyBlocked) IsBlocked(ctx context.Context, number string) (bool, error) {
	for _, b := range a {
		blocked, err := b.IsBlocked(ctx, number)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}
