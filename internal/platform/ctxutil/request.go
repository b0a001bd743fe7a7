package ctxutil

import "context"

type requestDataKey struct{}

// RequestData carries the caller identity resolved by the auth middleware.
type RequestData struct {
	UserID string
	// AuthSource is "jwt" or "header".
	AuthSource string
	// Roles come from the token's role/roles claims. Header auth carries none.
	Roles []string
}

// RoleChannelService marks a messaging transport allowed to act for the
// contacts it relays.
const RoleChannelService = "channel_service"

func (rd *RequestData) HasRole(role string) bool {
	if rd == nil {
		return false
	}
	for _, r := range rd.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(Default(ctx), requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// Detached keeps ctx's values but drops its deadline and cancellation, for
// work that must outlive the request that started it.
func Detached(ctx context.Context) context.Context {
	return context.WithoutCancel(Default(ctx))
}
