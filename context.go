package authgate

import "context"

// requestInfo is what the transport layer knows about the caller. The
// Engine reads it for captcha throttling and audit events only; none of it
// influences an authentication decision.
type requestInfo struct {
	clientIP  string
	userAgent string
	requestID string
}

type requestInfoKey struct{}

func withRequestInfo(ctx context.Context, update func(*requestInfo)) context.Context {
	info := requestInfoFrom(ctx)
	update(&info)
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestInfoFrom(ctx context.Context) requestInfo {
	if ctx == nil {
		return requestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	return info
}

// WithClientIP attaches the caller's IP address to ctx. Captcha issuance is
// throttled per IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return withRequestInfo(ctx, func(info *requestInfo) { info.clientIP = ip })
}

// WithUserAgent records the HTTP User-Agent for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return withRequestInfo(ctx, func(info *requestInfo) { info.userAgent = userAgent })
}

// WithRequestID tags audit events emitted under ctx so they can be joined
// with transport logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withRequestInfo(ctx, func(info *requestInfo) { info.requestID = requestID })
}

func clientIPFromContext(ctx context.Context) string {
	return requestInfoFrom(ctx).clientIP
}
